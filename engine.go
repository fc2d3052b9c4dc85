package adminauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakmont/adminauth/internal/rate"
	"github.com/oakmont/adminauth/internal/stores"
	"github.com/oakmont/adminauth/jwt"
	"github.com/oakmont/adminauth/password"
)

// Engine is the authentication core. Build one through [Builder]; all
// methods are safe for concurrent use.
type Engine struct {
	config       Config
	store        AccountStore
	issuer       TokenIssuer
	limiter      *rate.Limiter
	tracker      *attemptTracker
	suspicion    *suspicionDetector
	pipeline     *mitigationPipeline
	pending      *stores.PendingSetupStore
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	totp         *totpManager
	backup       *backupCodeManager
	jwtManager   *jwt.Manager
	logger       *zap.Logger
	now          func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// TokenManager exposes the default token manager for middleware wiring.
// Nil when a custom [TokenIssuer] was injected.
func (e *Engine) TokenManager() *jwt.Manager {
	if e == nil {
		return nil
	}
	return e.jwtManager
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// jwtIssuer adapts the jwt subpackage manager to [TokenIssuer].
type jwtIssuer struct {
	manager *jwt.Manager
}

func (i jwtIssuer) IssueToken(account *AccountRecord) (string, error) {
	return i.manager.CreateAccess(account.AccountID, account.Identifier, account.TenantID, account.Role)
}
