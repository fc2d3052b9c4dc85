package adminauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Client strings that indicate scripted traffic rather than a browser.
var scriptedAgentMarkers = []string{
	"curl", "wget", "python", "httpie", "go-http-client", "java/",
	"bot", "spider", "crawler", "scrapy", "libwww",
}

// suspicionDetector flags traffic patterns worth an audit trail entry.
// Findings are advisory: they never block a request on their own.
type suspicionDetector struct {
	redis  redis.UniversalClient
	config SuspicionConfig
	prefix string
}

func newSuspicionDetector(redisClient redis.UniversalClient, cfg SuspicionConfig, keyPrefix string) *suspicionDetector {
	return &suspicionDetector{
		redis:  redisClient,
		config: cfg,
		prefix: keyPrefix,
	}
}

func (d *suspicionDetector) identifiersKey(ip string) string {
	return d.prefix + ":sus:ids:" + ip
}

func (d *suspicionDetector) burstKey(ip string) string {
	return d.prefix + ":sus:burst:" + ip
}

// Observe records one failed attempt and returns any patterns the
// attempt completed. Backend trouble degrades to user-agent checks
// only rather than failing the caller.
func (d *suspicionDetector) Observe(ctx context.Context, identifier, ip, userAgent string) ([]string, error) {
	var findings []string

	if marker := scriptedAgent(userAgent); marker != "" {
		findings = append(findings, "scripted user agent: "+marker)
	}

	if ip == "" {
		return findings, nil
	}

	pipe := d.redis.Pipeline()
	pipe.SAdd(ctx, d.identifiersKey(ip), identifier)
	pipe.Expire(ctx, d.identifiersKey(ip), d.config.IdentifierWindow)
	scard := pipe.SCard(ctx, d.identifiersKey(ip))
	incr := pipe.Incr(ctx, d.burstKey(ip))
	if _, err := pipe.Exec(ctx); err != nil {
		return findings, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}

	if scard.Val() > int64(d.config.DistinctIdentifiersPerIP) {
		findings = append(findings, fmt.Sprintf("%d identifiers from one address", scard.Val()))
	}

	if incr.Val() == 1 {
		if err := d.redis.Expire(ctx, d.burstKey(ip), d.config.BurstWindow).Err(); err != nil {
			return findings, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
		}
	}
	if incr.Val() >= int64(d.config.BurstCount) {
		findings = append(findings, fmt.Sprintf("%d failures in %s", incr.Val(), d.config.BurstWindow))
	}

	return findings, nil
}

func scriptedAgent(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return "empty"
	}
	for _, marker := range scriptedAgentMarkers {
		if strings.Contains(ua, marker) {
			return marker
		}
	}
	return ""
}
