package domain

import "strings"

// sessionSep never occurs in a handle (handles are UUIDs).
const sessionSep = "#"

// SessionID names an active pairing of exactly two handles.
type SessionID string

// NewSessionID builds the canonical id for a pair. The two handles are
// ordered lexicographically so both sides derive the same id.
func NewSessionID(a, b Handle) SessionID {
	if b < a {
		a, b = b, a
	}
	return SessionID(string(a) + sessionSep + string(b))
}

// Members returns the two handles of the session.
func (s SessionID) Members() (Handle, Handle, bool) {
	a, b, ok := strings.Cut(string(s), sessionSep)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return Handle(a), Handle(b), true
}

// Peer returns the counterpart of h within the session.
func (s SessionID) Peer(h Handle) (Handle, bool) {
	a, b, ok := s.Members()
	if !ok {
		return "", false
	}
	switch h {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}
