package adminauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine.
const (
	EventLoginSuccess          = "LOGIN_SUCCESS"
	EventFailedLoginAttempt    = "FAILED_LOGIN_ATTEMPT"
	EventAccountLocked         = "ACCOUNT_LOCKED"
	EventRateLimited           = "RATE_LIMITED"
	EventSuspiciousActivity    = "SUSPICIOUS_ACTIVITY"
	EventTwoFactorSetupStarted = "2FA_SETUP_STARTED"
	EventTwoFactorEnabled      = "2FA_ENABLED"
	EventTwoFactorDisabled     = "2FA_DISABLED"
	EventTwoFactorFailed       = "2FA_VERIFICATION_FAILED"
	EventTwoFactorReplayed     = "2FA_CODE_REPLAYED"
	EventBackupCodeUsed        = "BACKUP_CODE_USED"
	EventBackupCodesRegenerate = "BACKUP_CODES_REGENERATED"
	EventPasswordChanged       = "PASSWORD_CHANGED"
	EventSensitiveOpVerified   = "SENSITIVE_OPERATION_VERIFIED"
	EventSensitiveOpDenied     = "SENSITIVE_OPERATION_DENIED"
)

type AuditEvent struct {
	EventID    string            `json:"event_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	AccountID  string            `json:"account_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
