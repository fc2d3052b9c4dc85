package adminauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oakmont/adminauth/internal/rate"
)

// GateDecision is the verdict of the pre-attempt gates.
type GateDecision struct {
	Allowed     bool
	Reason      error // ErrRateLimited or ErrAccountLocked when blocked
	LockedUntil time.Time
	RetryAfter  time.Duration
}

// mitigationPipeline runs the abuse gates in a fixed order: rate limit,
// then lockout, then progressive delay, then the advisory suspicion
// pass. The first blocking gate wins; later gates are not consulted.
type mitigationPipeline struct {
	limiter   *rate.Limiter
	tracker   *attemptTracker
	suspicion *suspicionDetector
	metrics   *Metrics
	audit     *auditDispatcher
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

func newMitigationPipeline(
	limiter *rate.Limiter,
	tracker *attemptTracker,
	suspicion *suspicionDetector,
	metrics *Metrics,
	audit *auditDispatcher,
) *mitigationPipeline {
	return &mitigationPipeline{
		limiter:   limiter,
		tracker:   tracker,
		suspicion: suspicion,
		metrics:   metrics,
		audit:     audit,
		now:       time.Now,
		sleep:     sleepFor,
	}
}

func sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Allow runs the blocking gates for one inbound attempt, then serves the
// progressive delay owed by any prior failures. A blocked decision
// carries the sentinel the caller should surface, with the timing
// attached through [LockedError] / [RateLimitedError].
func (p *mitigationPipeline) Allow(ctx context.Context, scope rate.Scope, identifier, ip string) (*GateDecision, error) {
	if err := p.limiter.Check(ctx, scope, identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			p.metrics.Inc(MetricLoginRateLimited)
			p.emit(ctx, AuditEvent{
				Timestamp:  p.now(),
				EventType:  EventRateLimited,
				Identifier: identifier,
				IP:         ip,
			})
			retry, rerr := p.limiter.RetryAfter(ctx, scope, identifier, ip)
			if rerr != nil {
				retry = 0
			}
			return &GateDecision{
				Reason:     &RateLimitedError{RetryAfter: retry},
				RetryAfter: retry,
			}, nil
		}
		return nil, err
	}

	locked, until, err := p.tracker.IsLocked(ctx, identifier, p.now())
	if err != nil {
		return nil, err
	}
	if locked {
		p.metrics.Inc(MetricLoginLocked)
		return &GateDecision{
			Reason:      &LockedError{Lockout: LockoutInfo{UnlockAt: until}},
			LockedUntil: until,
			RetryAfter:  until.Sub(p.now()),
		}, nil
	}

	// Progressive delay: prior failures slow the next attempt down even
	// below the lockout threshold. A rejected request is never delayed.
	attempts, err := p.tracker.Attempts(ctx, identifier, ip, p.now())
	if err != nil {
		return nil, err
	}
	if attempts > 0 {
		p.sleep(ctx, p.tracker.DelayFor(attempts))
	}

	return &GateDecision{Allowed: true}, nil
}

// OnFailure records one failed attempt across every gate. Bookkeeping
// runs on a detached context so a caller hanging up mid-request cannot
// leave the counters short. The returned outcome carries the delay the
// next attempt will be served by [Allow].
func (p *mitigationPipeline) OnFailure(ctx context.Context, scope rate.Scope, identifier, ip, userAgent string) (*FailureOutcome, error) {
	bookCtx := context.WithoutCancel(ctx)

	rateErr := p.limiter.RecordFailure(bookCtx, scope, identifier, ip)
	if rateErr != nil && !errors.Is(rateErr, rate.ErrRateLimited) {
		return nil, rateErr
	}

	outcome, err := p.tracker.RecordFailure(bookCtx, identifier, ip, p.now())
	if err != nil {
		return nil, err
	}

	if outcome.Locked {
		p.metrics.Inc(MetricLoginLocked)
		p.emit(bookCtx, AuditEvent{
			Timestamp:  p.now(),
			EventType:  EventAccountLocked,
			Identifier: identifier,
			IP:         ip,
			Metadata: map[string]string{
				"attempts":     strconv.Itoa(outcome.Attempts),
				"locked_until": outcome.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}

	findings, susErr := p.suspicion.Observe(bookCtx, identifier, ip, userAgent)
	if susErr == nil && len(findings) > 0 {
		p.metrics.Inc(MetricSuspicionFlagged)
		meta := make(map[string]string, len(findings))
		for i, finding := range findings {
			meta["pattern_"+strconv.Itoa(i)] = finding
		}
		p.emit(bookCtx, AuditEvent{
			Timestamp:  p.now(),
			EventType:  EventSuspiciousActivity,
			Identifier: identifier,
			IP:         ip,
			UserAgent:  userAgent,
			Metadata:   meta,
		})
	}

	return outcome, nil
}

// OnSuccess clears every counter the pair accumulated.
func (p *mitigationPipeline) OnSuccess(ctx context.Context, scope rate.Scope, identifier, ip string) error {
	bookCtx := context.WithoutCancel(ctx)
	if err := p.limiter.Reset(bookCtx, scope, identifier, ip); err != nil {
		return err
	}
	return p.tracker.Clear(bookCtx, identifier, ip)
}

func (p *mitigationPipeline) emit(ctx context.Context, event AuditEvent) {
	p.audit.Emit(ctx, event)
}
