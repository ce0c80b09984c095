package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/markwell/bookmarkd/internal/schema"
)

const bookmarkColumns = `id, user_id, parent_id, title, url, favicon, is_folder,
	sort_order, date_added, date_modified, sync_version, is_deleted, deleted_at`

// Create inserts a new bookmark with a server-assigned id and sync_version 1,
// bumps the user's global version, and appends a create event carrying the
// full created payload. Create cannot conflict. The returned event is the
// journal row as recorded, for fan-out.
func (s *Store) Create(ctx context.Context, userID string, spec *schema.CreateSpec, clientID string) (*schema.Bookmark, *schema.SyncEvent, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid bookmark: %w", err)
	}

	now := schema.NowMillis()
	b := &schema.Bookmark{
		ID:           uuid.NewString(),
		UserID:       userID,
		ParentID:     spec.ParentID,
		Title:        spec.Title,
		URL:          spec.URL,
		Favicon:      spec.Favicon,
		IsFolder:     spec.IsFolder,
		SortOrder:    spec.SortOrder,
		DateAdded:    now,
		DateModified: now,
		SyncVersion:  1,
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookmarks (
			id, user_id, parent_id, title, url, favicon, is_folder,
			sort_order, date_added, date_modified, sync_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		b.ID, b.UserID, b.ParentID, b.Title, b.URL, b.Favicon,
		boolToInt(b.IsFolder), b.SortOrder, b.DateAdded, b.DateModified,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert bookmark: %w", err)
	}

	version, err := bumpVersion(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(b)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal create payload: %w", err)
	}
	event, err := appendEvent(ctx, tx, userID, schema.EventCreate, b.ID, payload, clientID, version)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit create: %w", err)
	}

	return b, event, nil
}

// Update applies the patch to a live bookmark, guarded by expectedVersion.
//
// Returns ErrNotFound if no live row exists, a ConflictError carrying the
// authoritative state if the stored sync_version differs from
// expectedVersion, or ErrInvalidPatch if the merged row would violate the
// folder/url invariant. On success the row version is bumped, date_modified
// is refreshed, and an update event with the changed-field patch is
// recorded and returned.
func (s *Store) Update(ctx context.Context, userID, id string, patch *schema.UpdatePatch, expectedVersion int64, clientID string) (*schema.Bookmark, *schema.SyncEvent, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getLiveForUpdate(ctx, tx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if b.SyncVersion != expectedVersion {
		return nil, nil, &ConflictError{Current: b, ExpectedVersion: expectedVersion}
	}

	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.URL != nil {
		b.URL = patch.URL
	}
	if patch.Favicon != nil {
		b.Favicon = *patch.Favicon
	}
	if patch.SortOrder != nil {
		b.SortOrder = *patch.SortOrder
	}

	// The folder/url invariant must hold on the merged row, not just at
	// creation: a patch carrying a url against a folder is rejected here.
	if err := b.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	b.SyncVersion++
	b.DateModified = schema.NowMillis()

	_, err = tx.ExecContext(ctx, `
		UPDATE bookmarks
		SET title = ?, url = ?, favicon = ?, sort_order = ?,
		    sync_version = ?, date_modified = ?
		WHERE id = ? AND user_id = ?`,
		b.Title, b.URL, b.Favicon, b.SortOrder,
		b.SyncVersion, b.DateModified, id, userID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update bookmark %s: %w", id, err)
	}

	version, err := bumpVersion(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal update payload: %w", err)
	}
	event, err := appendEvent(ctx, tx, userID, schema.EventUpdate, id, payload, clientID, version)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return b, event, nil
}

// Move reparents and/or repositions a live bookmark, guarded by
// expectedVersion, with the same conflict semantics as Update.
func (s *Store) Move(ctx context.Context, userID, id string, newParentID *string, newIndex int, expectedVersion int64, clientID string) (*schema.Bookmark, *schema.SyncEvent, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getLiveForUpdate(ctx, tx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if b.SyncVersion != expectedVersion {
		return nil, nil, &ConflictError{Current: b, ExpectedVersion: expectedVersion}
	}

	b.ParentID = newParentID
	b.SortOrder = newIndex
	b.SyncVersion++
	b.DateModified = schema.NowMillis()

	_, err = tx.ExecContext(ctx, `
		UPDATE bookmarks
		SET parent_id = ?, sort_order = ?, sync_version = ?, date_modified = ?
		WHERE id = ? AND user_id = ?`,
		b.ParentID, b.SortOrder, b.SyncVersion, b.DateModified, id, userID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to move bookmark %s: %w", id, err)
	}

	version, err := bumpVersion(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"parentId":  b.ParentID,
		"sortOrder": b.SortOrder,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal move payload: %w", err)
	}
	event, err := appendEvent(ctx, tx, userID, schema.EventMove, id, payload, clientID, version)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit move: %w", err)
	}

	return b, event, nil
}

// SoftDelete marks a bookmark deleted, guarded by expectedVersion.
//
// An absent or already-deleted target is a successful no-op: "already
// deleted" is indistinguishable from "the target of this old message", so
// the current global version is returned without bumping the ledger. The
// returned event is nil for the no-op case and the recorded delete event
// otherwise.
func (s *Store) SoftDelete(ctx context.Context, userID, id string, expectedVersion int64, clientID string) (int64, *schema.SyncEvent, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getLiveForUpdate(ctx, tx, userID, id)
	if err == ErrNotFound {
		version, verr := currentVersionTx(ctx, tx, userID)
		if verr != nil {
			return 0, nil, verr
		}
		if cerr := tx.Commit(); cerr != nil {
			return 0, nil, fmt.Errorf("failed to commit delete no-op: %w", cerr)
		}
		return version, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if b.SyncVersion != expectedVersion {
		return 0, nil, &ConflictError{Current: b, ExpectedVersion: expectedVersion}
	}

	now := schema.NowMillis()
	_, err = tx.ExecContext(ctx, `
		UPDATE bookmarks
		SET is_deleted = 1, deleted_at = ?, sync_version = ?, date_modified = ?
		WHERE id = ? AND user_id = ?`,
		now, b.SyncVersion+1, now, id, userID,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to delete bookmark %s: %w", id, err)
	}

	version, err := bumpVersion(ctx, tx, userID)
	if err != nil {
		return 0, nil, err
	}

	event, err := appendEvent(ctx, tx, userID, schema.EventDelete, id, nil, clientID, version)
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	return version, event, nil
}

// ClearAll hard-deletes every bookmark and sync event for the user and
// resets the version ledger to 0. Used only by full-resync's reset step.
func (s *Store) ClearAll(ctx context.Context, userID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear bookmarks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_events WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear sync events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_versions (user_id, current_version) VALUES (?, 0)
		ON CONFLICT(user_id) DO UPDATE SET current_version = 0`, userID); err != nil {
		return fmt.Errorf("failed to reset version ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	s.logger.Printf("Cleared all bookmarks for user %s", userID)
	return nil
}

// Get returns a single live bookmark, ErrNotFound if absent or deleted.
func (s *Store) Get(ctx context.Context, userID, id string) (*schema.Bookmark, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE id = ? AND user_id = ? AND is_deleted = 0`, id, userID)
	b, err := scanBookmark(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark %s: %w", id, err)
	}
	return b, nil
}

// ListAll returns every live bookmark for the user, ordered by sort_order.
func (s *Store) ListAll(ctx context.Context, userID string) ([]*schema.Bookmark, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE user_id = ? AND is_deleted = 0
		ORDER BY sort_order ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	return scanBookmarks(rows)
}

// Search returns live bookmarks whose title or url contains the substring,
// case-insensitively, most recently modified first, capped at 100.
func (s *Store) Search(ctx context.Context, userID, query string) ([]*schema.Bookmark, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE user_id = ? AND is_deleted = 0
		  AND (title LIKE ? ESCAPE '\' OR url LIKE ? ESCAPE '\')
		ORDER BY date_modified DESC
		LIMIT 100`, userID, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search bookmarks: %w", err)
	}
	defer rows.Close()

	return scanBookmarks(rows)
}

// getLiveForUpdate reads a live row inside tx. ErrNotFound covers both
// never-existed and soft-deleted rows.
func getLiveForUpdate(ctx context.Context, tx *sql.Tx, userID, id string) (*schema.Bookmark, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+bookmarkColumns+`
		FROM bookmarks
		WHERE id = ? AND user_id = ? AND is_deleted = 0`, id, userID)
	b, err := scanBookmark(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmark %s: %w", id, err)
	}
	return b, nil
}

func currentVersionTx(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT current_version FROM user_versions WHERE user_id = ?`, userID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// scanner abstracts sql.Row and sql.Rows for the shared scan helper.
type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row scanner) (*schema.Bookmark, error) {
	var b schema.Bookmark
	var parentID, url sql.NullString
	var isFolder, isDeleted int
	var deletedAt sql.NullInt64

	err := row.Scan(
		&b.ID, &b.UserID, &parentID, &b.Title, &url, &b.Favicon, &isFolder,
		&b.SortOrder, &b.DateAdded, &b.DateModified, &b.SyncVersion,
		&isDeleted, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		b.ParentID = &parentID.String
	}
	if url.Valid {
		b.URL = &url.String
	}
	b.IsFolder = isFolder != 0
	b.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		b.DeletedAt = &deletedAt.Int64
	}
	return &b, nil
}

func scanBookmarks(rows *sql.Rows) ([]*schema.Bookmark, error) {
	var bookmarks []*schema.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookmarks: %w", err)
	}
	return bookmarks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
