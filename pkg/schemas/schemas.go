// File: pkg/schemas/schemas.go
// Description: Wire and domain types shared across the tag. These are plain
// data carriers; behavior lives in the packages that consume them.

package schemas

import (
	"net/mail"
	"strings"
)

// -- Classification --

// ClassificationResult is the outcome of the automation check, computed once
// at orchestrator construction. Confidence and Reasons are diagnostic only;
// IsAutomated is the sole behavioral gate.
type ClassificationResult struct {
	IsAutomated bool     `json:"is_automated"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

// -- Session lifecycle --

// SessionState tracks the one-shot remote session initialization.
// Ready and Failed are terminal; no transitions occur after either is reached.
type SessionState int32

const (
	SessionUninitialized SessionState = iota
	SessionInitializing
	SessionReady
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can occur.
func (s SessionState) Terminal() bool {
	return s == SessionReady || s == SessionFailed
}

// -- Navigation --

// NavigationEvent describes a single in-page URL transition. Emitted
// transiently by the navigation watcher, never retained.
type NavigationEvent struct {
	PreviousURL string `json:"previous_url"`
	CurrentURL  string `json:"current_url"`
}

// -- Outbound payloads --

// IdentifyRequest associates the current visitor with an email address and
// optional traits. Ownership transfers to the remote client on dispatch.
type IdentifyRequest struct {
	Email        string          `json:"email"`
	Properties   map[string]any  `json:"properties,omitempty"`
	MailingLists map[string]bool `json:"mailing_lists,omitempty"`
}

// Validate checks the request shape locally. An invalid email never reaches
// the network.
func (r *IdentifyRequest) Validate() error {
	email := strings.TrimSpace(r.Email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, ".") {
		return &ValidationError{Field: "email", Reason: "malformed email address"}
	}
	return nil
}

// TrackRequest carries an arbitrary event type with a free-form property bag.
type TrackRequest struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate checks the request shape locally.
func (r *TrackRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return &ValidationError{Field: "type", Reason: "event type is required"}
	}
	return nil
}

// PageViewEventType is the canonical event type emitted by automatic and
// manual page-view tracking.
const PageViewEventType = "page_view"
