package schema

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a sync event.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventMove   EventType = "move"
)

// Valid reports whether t is one of the four mutation kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete, EventMove:
		return true
	}
	return false
}

// SyncEvent is one immutable entry of a user's mutation log.
//
// SyncVersion is the user's *global* ledger value at the moment the event
// was recorded, not the bookmark's own row version. Data is the full
// created bookmark for create, the changed-field patch for update/move,
// and empty for delete.
type SyncEvent struct {
	ID         int64           `json:"id"`
	UserID     string          `json:"-"`
	Type       EventType       `json:"type"`
	BookmarkID string          `json:"bookmarkId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ClientID   string          `json:"clientId,omitempty"`
	SyncVersion int64          `json:"syncVersion"`
}

// Validate checks required fields and the event type.
func (e *SyncEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if e.BookmarkID == "" {
		return fmt.Errorf("bookmarkId is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
