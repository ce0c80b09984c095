// Package schema provides the data structures shared by the bookmark store,
// sync engine, and transport adapters.
package schema

import (
	"fmt"
	"time"
)

// Bookmark is one node of a user's bookmark tree: either a link or a folder.
//
// URL is nil exactly when IsFolder is true. ParentID is nil for roots;
// a dangling ParentID (parent hard-deleted out from under a child) is
// tolerated and consumers treat such children as roots.
type Bookmark struct {
	// ===== Identity =====
	ID     string `json:"id"`
	UserID string `json:"-"`

	// ===== Tree position =====
	ParentID  *string `json:"parentId"`
	SortOrder int     `json:"sortOrder"`

	// ===== Content =====
	Title    string  `json:"title"`
	URL      *string `json:"url"`
	Favicon  string  `json:"favicon,omitempty"`
	IsFolder bool    `json:"isFolder"`

	// ===== Timestamps (epoch milliseconds) =====
	DateAdded    int64 `json:"dateAdded"`
	DateModified int64 `json:"dateModified"`

	// ===== Sync bookkeeping =====
	// SyncVersion is the per-row optimistic lock, starting at 1 and bumped
	// on every successful update/move/delete of this row. It is distinct
	// from the per-user global version stamped on SyncEvents.
	SyncVersion int64 `json:"syncVersion"`

	IsDeleted bool   `json:"isDeleted,omitempty"`
	DeletedAt *int64 `json:"deletedAt,omitempty"`
}

// Validate checks the folder/url invariant and required fields.
func (b *Bookmark) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if b.IsFolder && b.URL != nil {
		return fmt.Errorf("folder must not have a url")
	}
	if !b.IsFolder && b.URL == nil {
		return fmt.Errorf("non-folder must have a url")
	}
	return nil
}

// CreateSpec is the caller-supplied shape of a new bookmark.
// LocalID is an opaque correlation id echoed back by batch creation;
// the server never stores it.
type CreateSpec struct {
	LocalID   string  `json:"localId,omitempty"`
	ParentID  *string `json:"parentId"`
	Title     string  `json:"title"`
	URL       *string `json:"url"`
	Favicon   string  `json:"favicon,omitempty"`
	IsFolder  bool    `json:"isFolder"`
	SortOrder int     `json:"sortOrder"`
}

// Validate rejects specs violating the folder/url invariant.
func (c *CreateSpec) Validate() error {
	if c.IsFolder && c.URL != nil {
		return fmt.Errorf("folder must not have a url")
	}
	if !c.IsFolder && (c.URL == nil || *c.URL == "") {
		return fmt.Errorf("non-folder must have a url")
	}
	return nil
}

// UpdatePatch carries the fields an update may change. Nil means "leave as is".
type UpdatePatch struct {
	Title     *string `json:"title,omitempty"`
	URL       *string `json:"url,omitempty"`
	Favicon   *string `json:"favicon,omitempty"`
	SortOrder *int    `json:"sortOrder,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *UpdatePatch) Empty() bool {
	return p.Title == nil && p.URL == nil && p.Favicon == nil && p.SortOrder == nil
}

// NowMillis returns the current wall clock as epoch milliseconds, the
// timestamp unit used across the wire protocol and the database.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
