// Package domain defines the core domain models for the chat backend.
package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Roles lists every valid role, in a stable order.
func Roles() []Role {
	return []Role{RoleUser, RoleAssistant, RoleSystem}
}

// SessionIDLength is the length of the opaque session token (UUIDv4 text form).
const SessionIDLength = 36

// Tier is the storage tier a session was assigned at creation time.
type Tier string

const (
	// TierEphemeral sessions live as metadata files on disk and expire by TTL.
	TierEphemeral Tier = "ephemeral"
	// TierPersistent sessions live as durable database rows and never expire.
	TierPersistent Tier = "persistent"
)

// Session is a durable session row.
type Session struct {
	ID         string     `json:"id"`
	Persistent bool       `json:"persistent"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}

// ResolvedSession is the result of session resolution. The tier is decided
// exactly once, when the session is created or resolved, so callers never
// re-probe both storage tiers to learn it.
type ResolvedSession struct {
	ID   string `json:"id"`
	Tier Tier   `json:"tier"`
}

// IsPersistent reports whether the session lives in the durable tier.
func (s ResolvedSession) IsPersistent() bool {
	return s.Tier == TierPersistent
}

// Message is a single message in a session. Timestamp is assigned by the
// store at write time; a nil Timestamp marks a row whose stored timestamp
// could not be parsed.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ChatRequest is an inbound turn request.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	// Persistent overrides the configured default tier for newly created
	// sessions. Nil means use the default.
	Persistent *bool `json:"persistent,omitempty"`
	Stream     bool  `json:"stream,omitempty"`
}

// Validate checks the request against the given message length cap. It
// returns a *ValidationError describing the first violated constraint.
func (r ChatRequest) Validate(maxMessageLength int) error {
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if len(r.Message) > maxMessageLength {
		return &ValidationError{Field: "message", Reason: "exceeds maximum length"}
	}
	if r.SessionID != "" {
		if len(r.SessionID) != SessionIDLength {
			return &ValidationError{Field: "session_id", Reason: "must be 36 characters"}
		}
		for _, c := range strings.ToLower(r.SessionID) {
			if !strings.ContainsRune("0123456789abcdef-", c) {
				return &ValidationError{Field: "session_id", Reason: "invalid format"}
			}
		}
	}
	return nil
}

// ChatResponse is the structured result of one completed turn.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	// ContextLength counts every message sent to the provider for this
	// turn, including the injected system preamble and the user message
	// that started the turn.
	ContextLength int       `json:"context_length"`
	Timestamp     time.Time `json:"timestamp"`
}

// MessageHistory is the history payload returned to clients.
type MessageHistory struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
}
