package types

import "time"

// Episode is a temporal container correlating one conversation window with
// the knowledge extracted from it. Every entity, relation, and fact is owned
// by exactly one episode.
type Episode struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name,omitempty"`

	Validity  Interval  `json:"validity"`
	CreatedAt time.Time `json:"created_at"`

	MessageCount  int `json:"message_count"`
	EntityCount   int `json:"entity_count"`
	RelationCount int `json:"relation_count"`
	FactCount     int `json:"fact_count"`
}

// Validate checks required fields.
func (e *Episode) Validate() error {
	if e.SessionID == "" {
		return ErrEmptySessionID
	}
	return nil
}

// Open reports whether the episode is still accepting knowledge. An episode
// is created lazily on the first message of a session and stays open until
// explicitly closed or superseded.
func (e *Episode) Open() bool { return e.Validity.Valid() }

// Close ends the episode at t.
func (e *Episode) Close(t time.Time) { e.Validity.Close(t) }
