// Package engine implements the synchronization core: the full-vs-incremental
// sync decision and the uniform optimistic-concurrency mutation protocol.
//
// The engine is the sole writer in front of the store. Transport adapters
// (REST, WebSocket) translate wire messages into engine calls and render the
// outcomes; they never touch the store directly.
package engine

import (
	"context"
	"log"
	"os"

	"github.com/markwell/bookmarkd/internal/schema"
	"github.com/markwell/bookmarkd/internal/store"
)

// Engine coordinates the bookmark store, version ledger, and event log.
type Engine struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a sync engine over an opened store.
func New(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger}
}

// SyncResult is the response to a sync request: either a full snapshot of
// the live bookmark set or the incremental event slice past the client's
// cursor. Version is the authoritative ledger value either way.
type SyncResult struct {
	Full      bool
	Bookmarks []*schema.Bookmark
	Events    []*schema.SyncEvent
	Version   int64
}

// Sync decides between full and incremental sync for a client cursor.
//
// A cursor of 0 (first sync) or at/past the ledger gets the full live set;
// anything else gets the events since the cursor. If the event log were ever
// compacted below a client's cursor this is also where the client would be
// forced back onto the full path.
func (e *Engine) Sync(ctx context.Context, userID string, lastSyncVersion int64) (*SyncResult, error) {
	current, err := e.store.CurrentVersion(ctx, userID)
	if err != nil {
		return nil, err
	}

	if lastSyncVersion == 0 || lastSyncVersion >= current {
		bookmarks, err := e.store.ListAll(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &SyncResult{Full: true, Bookmarks: bookmarks, Version: current}, nil
	}

	events, err := e.store.EventsSince(ctx, userID, lastSyncVersion)
	if err != nil {
		return nil, err
	}
	return &SyncResult{Events: events, Version: current}, nil
}

// Get returns a single live bookmark; store.ErrNotFound if absent.
func (e *Engine) Get(ctx context.Context, userID, id string) (*schema.Bookmark, error) {
	return e.store.Get(ctx, userID, id)
}

// Search returns live bookmarks matching the substring, capped at 100.
func (e *Engine) Search(ctx context.Context, userID, query string) ([]*schema.Bookmark, error) {
	return e.store.Search(ctx, userID, query)
}

// Outcome is the result of one mutation attempt.
//
// Exactly one of these holds: Conflict is non-nil (the write was discarded,
// Conflict.Current carries the authoritative state), or the mutation was
// applied and Event is the journal entry as recorded, for fan-out. A no-op
// delete of an absent row is Applied with a nil Event and an unchanged
// SyncVersion.
type Outcome struct {
	BookmarkID  string
	Bookmark    *schema.Bookmark
	SyncVersion int64
	Conflict    *store.ConflictError
	Event       *schema.SyncEvent
}

// Applied reports whether the mutation took effect (or was an idempotent
// delete no-op). False means the write conflicted and was discarded.
func (o *Outcome) Applied() bool { return o.Conflict == nil }

// Create applies a create mutation. Creates never conflict.
func (e *Engine) Create(ctx context.Context, userID string, spec *schema.CreateSpec, clientID string) (*Outcome, error) {
	b, event, err := e.store.Create(ctx, userID, spec, clientID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		BookmarkID:  b.ID,
		Bookmark:    b,
		SyncVersion: event.SyncVersion,
		Event:       event,
	}, nil
}

// Update applies a field patch guarded by expectedVersion. A version
// mismatch yields a conflict outcome, not an error; the attempted write is
// discarded. store.ErrNotFound and store.ErrInvalidPatch pass through for
// the adapters to map.
func (e *Engine) Update(ctx context.Context, userID, id string, patch *schema.UpdatePatch, expectedVersion int64, clientID string) (*Outcome, error) {
	b, event, err := e.store.Update(ctx, userID, id, patch, expectedVersion, clientID)
	if conflict := store.AsConflict(err); conflict != nil {
		return &Outcome{BookmarkID: id, Conflict: conflict}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{
		BookmarkID:  id,
		Bookmark:    b,
		SyncVersion: event.SyncVersion,
		Event:       event,
	}, nil
}

// Move reparents/repositions a bookmark with update's conflict semantics.
func (e *Engine) Move(ctx context.Context, userID, id string, newParentID *string, newIndex int, expectedVersion int64, clientID string) (*Outcome, error) {
	b, event, err := e.store.Move(ctx, userID, id, newParentID, newIndex, expectedVersion, clientID)
	if conflict := store.AsConflict(err); conflict != nil {
		return &Outcome{BookmarkID: id, Conflict: conflict}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{
		BookmarkID:  id,
		Bookmark:    b,
		SyncVersion: event.SyncVersion,
		Event:       event,
	}, nil
}

// Delete soft-deletes a bookmark. Deleting an absent or already-deleted row
// is a successful no-op: the outcome carries the unchanged ledger value and
// no event, and nothing is broadcast.
func (e *Engine) Delete(ctx context.Context, userID, id string, expectedVersion int64, clientID string) (*Outcome, error) {
	version, event, err := e.store.SoftDelete(ctx, userID, id, expectedVersion, clientID)
	if conflict := store.AsConflict(err); conflict != nil {
		return &Outcome{BookmarkID: id, Conflict: conflict}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{BookmarkID: id, SyncVersion: version, Event: event}, nil
}

// Clear wipes the user's bookmarks and events and resets the ledger. The
// client is expected to follow up by re-uploading its tree in depth order.
func (e *Engine) Clear(ctx context.Context, userID string) error {
	return e.store.ClearAll(ctx, userID)
}
