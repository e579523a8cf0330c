package types

import "time"

// Turn is one conversation turn inside a session.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the session-tier record: an append-only turn list, a
// reference to the active intent, and a scratch area for in-flight
// retrieved-document results. It lives only in the session store's
// ephemeral backing and dies on reset or TTL expiry.
type SessionState struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	Turns        []Turn            `json:"turns,omitempty"`
	ActiveIntent string            `json:"active_intent,omitempty"`
	Scratch      map[string]string `json:"scratch,omitempty"`
}

// RecentTurns returns the last n turns, oldest first.
func (s *SessionState) RecentTurns(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
