// Package uploader implements the client side of tree synchronization: the
// depth-ordered, batched upload of a local bookmark tree to the server, and
// the local-to-remote id mapping that makes parent references resolvable.
package uploader

import (
	"encoding/json"
	"fmt"
	"sync"
)

// KV is the persistence capability injected into a Session: a small
// string key-value store (extension storage, a file, anything durable).
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

const (
	kvKeyToken = "authToken"
	kvKeyIDMap = "idMap"
)

// Session holds the client's auth token and its local->remote id map,
// backed by an injected KV store. Callers invoke Restore at the start of
// every externally-triggered operation; client processes can be suspended
// and revived at any time, so nothing is assumed to survive in memory.
type Session struct {
	kv KV

	mu    sync.Mutex
	token string
	idMap map[string]string
}

// NewSession creates an unhydrated session over kv.
func NewSession(kv KV) *Session {
	return &Session{kv: kv, idMap: make(map[string]string)}
}

// Restore hydrates the token and id map from the KV store.
func (s *Session) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, _, err := s.kv.Get(kvKeyToken)
	if err != nil {
		return fmt.Errorf("failed to restore token: %w", err)
	}
	s.token = token

	raw, ok, err := s.kv.Get(kvKeyIDMap)
	if err != nil {
		return fmt.Errorf("failed to restore id map: %w", err)
	}
	s.idMap = make(map[string]string)
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.idMap); err != nil {
			return fmt.Errorf("failed to parse id map: %w", err)
		}
	}
	return nil
}

// SetToken stores the auth token.
func (s *Session) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return s.kv.Set(kvKeyToken, token)
}

// Token returns the restored auth token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RemoteID resolves a local id to its server-assigned id.
func (s *Session) RemoteID(localID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remoteID, ok := s.idMap[localID]
	return remoteID, ok
}

// RecordMapping stores one local->remote pair and persists the map, so a
// partially-completed sync run survives a client restart.
func (s *Session) RecordMapping(localID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idMap[localID] = remoteID
	return s.persistLocked()
}

// ResetMappings drops every mapping; used when the server side was cleared
// and all remote ids became invalid.
func (s *Session) ResetMappings() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idMap = make(map[string]string)
	return s.persistLocked()
}

func (s *Session) persistLocked() error {
	raw, err := json.Marshal(s.idMap)
	if err != nil {
		return fmt.Errorf("failed to marshal id map: %w", err)
	}
	if err := s.kv.Set(kvKeyIDMap, string(raw)); err != nil {
		return fmt.Errorf("failed to persist id map: %w", err)
	}
	return nil
}

// MemoryKV is an in-process KV store for tests and ephemeral runs.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get implements KV.
func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

// Set implements KV.
func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
