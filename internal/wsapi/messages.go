package wsapi

import (
	"encoding/json"
	"fmt"

	"github.com/markwell/bookmarkd/internal/schema"
)

// ClientMessageType tags a client-to-server frame.
type ClientMessageType string

const (
	ClientAuth           ClientMessageType = "auth"
	ClientSyncRequest    ClientMessageType = "sync_request"
	ClientSyncClear      ClientMessageType = "sync_clear"
	ClientBookmarkCreate ClientMessageType = "bookmark_create"
	ClientBookmarkUpdate ClientMessageType = "bookmark_update"
	ClientBookmarkDelete ClientMessageType = "bookmark_delete"
	ClientBookmarkMove   ClientMessageType = "bookmark_move"
	ClientPing           ClientMessageType = "ping"
)

// ServerMessageType tags a server-to-client frame.
type ServerMessageType string

const (
	ServerAuthRequired    ServerMessageType = "auth_required"
	ServerAuthSuccess     ServerMessageType = "auth_success"
	ServerAuthError       ServerMessageType = "auth_error"
	ServerSyncFull        ServerMessageType = "sync_full"
	ServerSyncIncremental ServerMessageType = "sync_incremental"
	ServerBookmarkAck     ServerMessageType = "bookmark_ack"
	ServerConflict        ServerMessageType = "conflict"
	ServerPong            ServerMessageType = "pong"
	ServerError           ServerMessageType = "error"
)

// Error codes carried on error frames.
const (
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeNotFound       = "NOT_FOUND"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeServerError    = "SERVER_ERROR"
)

// WebSocket close codes. 4002-4004 are reserved contract values; current
// logic only sends 1000 and 4001.
const (
	CloseNormal         = 1000
	CloseAuthFailed     = 4001
	CloseSessionExpired = 4002
	CloseRateLimited    = 4003
	CloseMaintenance    = 4004
)

// ClientMessage is the decoded client frame: one tagged variant per type.
// Only the fields belonging to the tag are populated.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// auth
	Token    string `json:"token,omitempty"`
	ClientID string `json:"clientId,omitempty"`

	// sync_request
	LastSyncVersion int64 `json:"lastSyncVersion,omitempty"`

	// bookmark mutations
	RequestID       string          `json:"requestId,omitempty"`
	ID              string          `json:"id,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ExpectedVersion int64           `json:"expectedVersion,omitempty"`
	NewParentID     *string         `json:"newParentId,omitempty"`
	NewIndex        int             `json:"newIndex,omitempty"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`
}

// parseClientMessage decodes one frame and rejects unknown tags rather than
// silently coercing them.
func parseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch msg.Type {
	case ClientAuth, ClientSyncRequest, ClientSyncClear,
		ClientBookmarkCreate, ClientBookmarkUpdate,
		ClientBookmarkDelete, ClientBookmarkMove, ClientPing:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("missing message type")
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}


// ServerMessage is the scalar-field server frame (auth flow, acks,
// conflicts, pongs, errors). The two sync frames carry slices and use their
// own payload structs below so empty sets still serialize as [].
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// auth_success
	UserID     string `json:"userId,omitempty"`
	ServerTime int64  `json:"serverTime,omitempty"`

	// auth_error / error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// bookmark_ack / conflict
	RequestID     string `json:"requestId,omitempty"`
	ID            string `json:"id,omitempty"`
	SyncVersion   *int64 `json:"syncVersion,omitempty"`
	ServerVersion int64  `json:"serverVersion,omitempty"`
	ClientVersion int64  `json:"clientVersion,omitempty"`

	// pong
	Timestamp int64 `json:"timestamp,omitempty"`
}

type syncFullPayload struct {
	Type        ServerMessageType  `json:"type"`
	Bookmarks   []*schema.Bookmark `json:"bookmarks"`
	SyncVersion int64              `json:"syncVersion"`
}

type syncIncrementalPayload struct {
	Type           ServerMessageType   `json:"type"`
	Events         []*schema.SyncEvent `json:"events"`
	CurrentVersion int64               `json:"currentVersion"`
}

func encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func authRequiredMsg() any {
	return &ServerMessage{Type: ServerAuthRequired}
}

func authSuccessMsg(userID string) any {
	return &ServerMessage{Type: ServerAuthSuccess, UserID: userID, ServerTime: schema.NowMillis()}
}

func authErrorMsg(message string) any {
	return &ServerMessage{Type: ServerAuthError, Message: message}
}

func syncFullMsg(bookmarks []*schema.Bookmark, version int64) any {
	if bookmarks == nil {
		bookmarks = []*schema.Bookmark{}
	}
	return &syncFullPayload{Type: ServerSyncFull, Bookmarks: bookmarks, SyncVersion: version}
}

func syncIncrementalMsg(events []*schema.SyncEvent, version int64) any {
	if events == nil {
		events = []*schema.SyncEvent{}
	}
	return &syncIncrementalPayload{Type: ServerSyncIncremental, Events: events, CurrentVersion: version}
}

func ackMsg(requestID, id string, version int64) any {
	return &ServerMessage{Type: ServerBookmarkAck, RequestID: requestID, ID: id, SyncVersion: &version}
}

func conflictMsg(requestID, id string, serverVersion, clientVersion int64) any {
	return &ServerMessage{
		Type:          ServerConflict,
		RequestID:     requestID,
		ID:            id,
		ServerVersion: serverVersion,
		ClientVersion: clientVersion,
	}
}

func pongMsg(timestamp int64) any {
	return &ServerMessage{Type: ServerPong, Timestamp: timestamp}
}

func errorMsg(requestID, code, message string) any {
	return &ServerMessage{Type: ServerError, RequestID: requestID, Code: code, Message: message}
}
