package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Durability is the storage tier of a scope.
type Durability string

const (
	Persistent Durability = "persistent"
	Ephemeral  Durability = "ephemeral"
)

// Descriptor names where the active conversation is persisted.
type Descriptor struct {
	ScopeKey   string     `json:"scope_key"`
	Durability Durability `json:"durability"`
}

// AuthState is the outcome of the most recent authentication check.
type AuthState struct {
	Authenticated bool
	AccountID     string
}

// Guest is the state for anonymous users and failed auth checks.
func Guest() AuthState { return AuthState{} }

// Account is the state for a confirmed profile.
func Account(id string) AuthState {
	return AuthState{Authenticated: id != "", AccountID: id}
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Suggestion is a product card attached to a bot message.
type Suggestion struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Image           string  `json:"image,omitempty"`
	Price           string  `json:"price"`
	Brand           string  `json:"brand,omitempty"`
	Rating          float64 `json:"rating"`
	PositivePercent float64 `json:"positivePercent"`
	Sentiment       string  `json:"sentiment,omitempty"`
}

// Message is one entry of the conversation. Messages are immutable once
// appended and displayed in insertion order. A nil Suggestions (no cards) and
// an empty one (a search that matched nothing) are kept distinct.
type Message struct {
	ID          int          `json:"id"`
	Role        Role         `json:"sender"`
	Text        string       `json:"content"`
	CreatedAt   time.Time    `json:"timestamp"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Snapshot is the unit of persistence: the draft input plus the ordered
// conversation.
type Snapshot struct {
	Draft    string    `json:"input"`
	Messages []Message `json:"messages"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Draft: s.Draft, Messages: make([]Message, len(s.Messages))}
	for i, m := range s.Messages {
		if m.Suggestions != nil {
			cards := make([]Suggestion, len(m.Suggestions))
			copy(cards, m.Suggestions)
			m.Suggestions = cards
		}
		out.Messages[i] = m
	}
	return out
}

// storedMessage tolerates snapshots written by older clients, where ids or
// timestamps may be missing.
type storedMessage struct {
	ID          *int         `json:"id"`
	Role        Role         `json:"sender"`
	Text        string       `json:"content"`
	CreatedAt   *time.Time   `json:"timestamp"`
	Suggestions []Suggestion `json:"suggestions"`
}

type storedSnapshot struct {
	Draft    *string         `json:"input"`
	Messages []storedMessage `json:"messages"`
}

// decodeSnapshot parses a persisted snapshot. Missing ids default to the
// 1-based position and missing timestamps to now.
func decodeSnapshot(raw string, now time.Time) (Snapshot, error) {
	var ss storedSnapshot
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	var snap Snapshot
	if ss.Draft != nil {
		snap.Draft = *ss.Draft
	}
	snap.Messages = make([]Message, 0, len(ss.Messages))
	for i, m := range ss.Messages {
		msg := Message{
			ID:          i + 1,
			Role:        m.Role,
			Text:        m.Text,
			CreatedAt:   now,
			Suggestions: m.Suggestions,
		}
		if m.ID != nil {
			msg.ID = *m.ID
		}
		if m.CreatedAt != nil {
			msg.CreatedAt = *m.CreatedAt
		}
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, nil
}

func encodeSnapshot(s Snapshot) (string, error) {
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	return string(b), nil
}

// PersistenceError describes a failed read or write of a snapshot. It is
// logged and counted, never returned to callers of Store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
