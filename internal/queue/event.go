// Package queue defines auth event payloads and moves them over RabbitMQ.
package queue

import "time"

// Auth events go to a topic exchange. Every event is routed to the audit
// queue; events carrying a reset token are also routed, unredacted, to the
// mail queue read by the mailer.
const (
	AuthExchange   = "auth.events"
	AuditQueueName = "auth.audit"
	MailQueueName  = "auth.mail"
)

// EventType names what happened.
type EventType string

const (
	EventLoginSucceeded         EventType = "login_succeeded"
	EventLoginFailed            EventType = "login_failed"
	EventTokenReuseDetected     EventType = "token_reuse_detected"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordReset          EventType = "password_reset"
	EventPasswordChanged        EventType = "password_changed"
	EventStatusChanged          EventType = "status_changed"
)

// AuthEvent is published on security-relevant auth activity. ResetToken is
// only set on password_reset_requested, for the mailer that sends the link.
type AuthEvent struct {
	Type       EventType `json:"type"`
	UserID     uint64    `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	IP         string    `json:"ip,omitempty"`
	ResetToken string    `json:"reset_token,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt string    `json:"occurred_at"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(t EventType, userID uint64, email, ip string) AuthEvent {
	return AuthEvent{
		Type:       t,
		UserID:     userID,
		Email:      email,
		IP:         ip,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// route is one message to publish for an event.
type route struct {
	key string
	ev  AuthEvent
}

// routes returns what to publish for ev. The audit copy never carries the
// reset token.
func routes(ev AuthEvent) []route {
	audit := ev
	audit.ResetToken = ""
	out := []route{{key: "audit." + string(ev.Type), ev: audit}}
	if ev.ResetToken != "" {
		out = append(out, route{key: "mail." + string(ev.Type), ev: ev})
	}
	return out
}
