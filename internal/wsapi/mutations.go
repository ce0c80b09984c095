package wsapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/markwell/bookmarkd/internal/engine"
	"github.com/markwell/bookmarkd/internal/schema"
	"github.com/markwell/bookmarkd/internal/store"
)

// Mutation flow, uniform across create/update/delete/move: apply via the
// engine, ack the originator (or surface a conflict), then fan the event out
// to the user's other live connections as a one-event sync_incremental.

func (s *Server) handleCreate(ctx context.Context, conn *connection, msg *ClientMessage) {
	var spec schema.CreateSpec
	if err := json.Unmarshal(msg.Data, &spec); err != nil {
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeInvalidRequest, "malformed bookmark data"))
		return
	}
	if err := spec.Validate(); err != nil {
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeInvalidRequest, err.Error()))
		return
	}

	out, err := s.engine.Create(ctx, conn.userID, &spec, conn.clientID)
	if err != nil {
		s.logger.Printf("bookmark_create failed for user %s: %v", conn.userID, err)
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "create failed"))
		return
	}
	s.ackAndBroadcast(ctx, conn, msg.RequestID, out)
}

func (s *Server) handleUpdate(ctx context.Context, conn *connection, msg *ClientMessage) {
	var patch schema.UpdatePatch
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &patch); err != nil {
			_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeInvalidRequest, "malformed patch"))
			return
		}
	}

	out, err := s.engine.Update(ctx, conn.userID, msg.ID, &patch, msg.ExpectedVersion, conn.clientID)
	if err == store.ErrNotFound {
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeNotFound, "bookmark not found"))
		return
	}
	if errors.Is(err, store.ErrInvalidPatch) {
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeInvalidRequest, err.Error()))
		return
	}
	if err != nil {
		s.logger.Printf("bookmark_update failed for user %s: %v", conn.userID, err)
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "update failed"))
		return
	}
	s.ackAndBroadcast(ctx, conn, msg.RequestID, out)
}

func (s *Server) handleDelete(ctx context.Context, conn *connection, msg *ClientMessage) {
	out, err := s.engine.Delete(ctx, conn.userID, msg.ID, msg.ExpectedVersion, conn.clientID)
	if err != nil {
		s.logger.Printf("bookmark_delete failed for user %s: %v", conn.userID, err)
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "delete failed"))
		return
	}
	s.ackAndBroadcast(ctx, conn, msg.RequestID, out)
}

func (s *Server) handleMove(ctx context.Context, conn *connection, msg *ClientMessage) {
	out, err := s.engine.Move(ctx, conn.userID, msg.ID, msg.NewParentID, msg.NewIndex, msg.ExpectedVersion, conn.clientID)
	if err == store.ErrNotFound {
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeNotFound, "bookmark not found"))
		return
	}
	if err != nil {
		s.logger.Printf("bookmark_move failed for user %s: %v", conn.userID, err)
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "move failed"))
		return
	}
	s.ackAndBroadcast(ctx, conn, msg.RequestID, out)
}

// ackAndBroadcast renders a mutation outcome: conflicts go back to the
// originator only; applied mutations are acked first, then broadcast to the
// user's other connections. The originator never receives its own broadcast.
func (s *Server) ackAndBroadcast(ctx context.Context, conn *connection, requestID string, out *engine.Outcome) {
	if !out.Applied() {
		_ = s.send(ctx, conn, conflictMsg(requestID, out.BookmarkID,
			out.Conflict.Current.SyncVersion, out.Conflict.ExpectedVersion))
		return
	}

	_ = s.send(ctx, conn, ackMsg(requestID, out.BookmarkID, out.SyncVersion))

	// A no-op delete has no event and nothing to distribute.
	if out.Event == nil {
		return
	}
	data, err := encode(syncIncrementalMsg([]*schema.SyncEvent{out.Event}, out.SyncVersion))
	if err != nil {
		s.logger.Printf("Failed to encode broadcast: %v", err)
		return
	}
	s.hub.Broadcast(conn.userID, data, conn)
}
