package store

import (
	"errors"
	"fmt"

	"github.com/markwell/bookmarkd/internal/schema"
)

// ErrNotFound is returned when the target bookmark does not exist for the
// requesting user (or was soft-deleted, for update/move).
var ErrNotFound = errors.New("bookmark not found")

// ErrInvalidPatch is returned when applying a patch would leave the row
// violating the folder/url invariant, e.g. setting a url on a folder.
var ErrInvalidPatch = errors.New("invalid patch")

// ConflictError reports an optimistic-lock failure: the stored row version
// did not match the caller's expectedVersion. Current carries the
// authoritative server state so the caller can resubmit or reconcile.
type ConflictError struct {
	Current         *schema.Bookmark
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on bookmark %s: server has %d, client expected %d",
		e.Current.ID, e.Current.SyncVersion, e.ExpectedVersion)
}

// AsConflict unwraps err into a ConflictError, nil if it isn't one.
func AsConflict(err error) *ConflictError {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
