package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventSignUp         EventType = "auth.sign_up"
	EventSignIn         EventType = "auth.sign_in"
	EventSignOut        EventType = "auth.sign_out"
	EventSessionExpired EventType = "auth.session_expired"

	EventAccountSwitch  EventType = "account.switch"
	EventBusinessCreate EventType = "business.create"
)

// Status represents the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is a single audit log entry
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Type       EventType `json:"event_type"`
	Status     Status    `json:"status"`

	// Actor
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`

	// Tenant the event applies to
	AccountID string `json:"account_id,omitempty"`

	// Request context
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Message      string            `json:"message,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SearchFilter narrows DBLogger.Search. Zero fields match everything.
type SearchFilter struct {
	UserID    string
	AccountID string
	Types     []EventType
	Since     *time.Time
	Limit     int
}
