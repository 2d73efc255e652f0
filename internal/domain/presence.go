// Package domain contains entity without logic, just meta-data
package domain

import "time"

// Handle identifies one live connection. Assigned by the transport
// on upgrade, never reused across reconnects.
type Handle string

type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusPaired    Status = "paired"
)

// Presence is the per-handle row in the session store.
// SessionID is set only while Status is StatusPaired.
type Presence struct {
	Handle     Handle    `json:"handle"`
	Status     Status    `json:"status"`
	SessionID  SessionID `json:"session_id,omitempty"`
	LastActive time.Time `json:"last_active"`
}

func (p Presence) Paired() bool { return p.Status == StatusPaired && p.SessionID != "" }
