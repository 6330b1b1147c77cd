package events

import (
	"time"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/google/uuid"
)

// Type names an account lifecycle event.
type Type string

const (
	EventUserCreated  Type = "user.created"
	EventUserUpdated  Type = "user.updated"
	EventUserLoggedIn Type = "user.logged_in"
	EventVOCreated    Type = "vo.created"
	EventVOEntered    Type = "vo.entered"
	EventVOLeft       Type = "vo.left"
)

// RequestInfo carries the requesting context of the login callback that
// produced an event.
type RequestInfo struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// Event is a single account lifecycle notification.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// User is the affected account. Nil only for vo.created, which fires
	// before any membership edge exists.
	User *auth.User `json:"user,omitempty"`

	// VO is set for the vo.* events.
	VO *auth.VirtualOrganization `json:"vo,omitempty"`

	Request RequestInfo `json:"request"`

	// Userinfo is the raw claims mapping of the login that triggered the
	// event.
	Userinfo map[string]interface{} `json:"userinfo,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(typ Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}
