package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rexproai/rexpro/internal/chat"
)

// Memory is a map-backed store for guest mode and tests. Sessions are
// stored as serialized copies so callers never alias internal state, the
// same isolation the Postgres implementation gets from the round trip
// through JSONB.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]byte            // session id -> payload
	owners   map[string]string            // session id -> user id
	settings map[string]map[string]string // user id -> key -> value
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: map[string][]byte{},
		owners:   map[string]string{},
		settings: map[string]map[string]string{},
	}
}

// Close is a no-op; it exists to satisfy the same shape as Postgres.
func (m *Memory) Close() {}

// GetAll returns every session belonging to userID, newest first.
func (m *Memory) GetAll(_ context.Context, userID string) ([]*chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*chat.Session
	for id, owner := range m.owners {
		if owner != userID {
			continue
		}
		var s chat.Session
		if err := json.Unmarshal(m.sessions[id], &s); err != nil {
			return nil, fmt.Errorf("decoding session payload: %w", err)
		}
		sessions = append(sessions, &s)
	}
	chat.SortSessions(sessions)
	return sessions, nil
}

// Put inserts or replaces a session.
func (m *Memory) Put(_ context.Context, s *chat.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = payload
	m.owners[s.ID] = s.UserID
	return nil
}

// DeleteByID removes one session. Deleting an unknown id is not an error.
func (m *Memory) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.owners, id)
	return nil
}

// ClearAllForUser removes every session belonging to userID.
func (m *Memory) ClearAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, owner := range m.owners {
		if owner == userID {
			delete(m.sessions, id)
			delete(m.owners, id)
		}
	}
	return nil
}

// GetSetting returns the stored value for key, or ErrSettingNotFound.
func (m *Memory) GetSetting(_ context.Context, userID, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.settings[userID][key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	return value, nil
}

// PutSetting stores or replaces the value for key.
func (m *Memory) PutSetting(_ context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settings[userID] == nil {
		m.settings[userID] = map[string]string{}
	}
	m.settings[userID][key] = value
	return nil
}
