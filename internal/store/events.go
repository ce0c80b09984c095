package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/markwell/bookmarkd/internal/schema"
)

// maxEventsPerQuery caps EventsSince results; callers needing more re-request
// with the last returned sync_version as the new cursor.
const maxEventsPerQuery = 1000

// appendEvent records one immutable sync event inside tx and returns it as
// stored, id included, so fan-out payloads match what EventsSince will later
// return for the same version. version is the user's global ledger value for
// this mutation, not the row version.
func appendEvent(ctx context.Context, tx *sql.Tx, userID string, typ schema.EventType, bookmarkID string, data json.RawMessage, clientID string, version int64) (*schema.SyncEvent, error) {
	e := &schema.SyncEvent{
		UserID:      userID,
		Type:        typ,
		BookmarkID:  bookmarkID,
		Data:        data,
		Timestamp:   schema.NowMillis(),
		ClientID:    clientID,
		SyncVersion: version,
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync event: %w", err)
	}

	var payload any
	if len(data) > 0 {
		payload = string(data)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_events (user_id, type, bookmark_id, data, timestamp, client_id, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, string(e.Type), e.BookmarkID, payload, e.Timestamp, e.ClientID, e.SyncVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append sync event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync event id: %w", err)
	}
	return e, nil
}

// EventsSince returns the user's events with sync_version > version, ordered
// ascending, capped at 1000 per call.
func (s *Store) EventsSince(ctx context.Context, userID string, version int64) ([]*schema.SyncEvent, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user_id, type, bookmark_id, data, timestamp, client_id, sync_version
		FROM sync_events
		WHERE user_id = ? AND sync_version > ?
		ORDER BY sync_version ASC
		LIMIT ?`, userID, version, maxEventsPerQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	defer rows.Close()

	var events []*schema.SyncEvent
	for rows.Next() {
		var e schema.SyncEvent
		var typ string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.BookmarkID, &data, &e.Timestamp, &e.ClientID, &e.SyncVersion); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		e.Type = schema.EventType(typ)
		if data.Valid && data.String != "" {
			e.Data = json.RawMessage(data.String)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync events: %w", err)
	}
	return events, nil
}
