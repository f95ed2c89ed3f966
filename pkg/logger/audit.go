package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	RiskScore     int
	Metadata      map[string]string
}

// AuditLogger emits the structured security audit trail: login outcomes,
// lockouts, anomaly flags, and session revocations.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogAuthAttempt logs the outcome of a login or MFA verification attempt.
// Email is masked before it reaches the log stream.
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	if event.RiskScore > 0 {
		attrs = append(attrs, slog.Int("risk_score", event.RiskScore))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogAccountLockout logs temporary and permanent account locks.
func (al *AuditLogger) LogAccountLockout(userID, reason string, permanent bool) {
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit",
		slog.String("audit_type", "account"),
		slog.String("event_type", "account_locked"),
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Bool("permanent", permanent),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogAnomaly logs a flagged login anomaly.
func (al *AuditLogger) LogAnomaly(userID, anomalyType string, riskScore int, action string) {
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit",
		slog.String("audit_type", "anomaly"),
		slog.String("event_type", anomalyType),
		slog.String("user_id", userID),
		slog.Int("risk_score", riskScore),
		slog.String("response_action", action),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogSessionEvent logs session lifecycle events (created, revoked, expired).
func (al *AuditLogger) LogSessionEvent(eventType, userID, sessionID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	for k, v := range metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
