package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// UserKey holds the JSON encoded User
	UserKey = "user"
	// TokenKey holds the API bearer token of the user, when there is one
	TokenKey = "jwt"
	// SeenKey holds the RFC 3339 time the session was last attached
	SeenKey = "seen"
)

// ErrNoUser is returned when the session carries no user
var ErrNoUser = errors.New("no user in session")

// Storage is a string key-value store scoped to one browser session
type Storage interface {
	// GetItem returns the value under key and whether it exists
	GetItem(key string) (string, bool)

	// SetItem stores value under key
	SetItem(key, value string) error
}

// User is the connected employee
type User struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

// Identity provides the connected user
type Identity interface {
	CurrentUser() (User, error)
}

// StorageIdentity reads the user from a session Storage
type StorageIdentity struct {
	storage Storage
}

// NewStorageIdentity creates an Identity backed by storage
func NewStorageIdentity(storage Storage) *StorageIdentity {
	return &StorageIdentity{storage: storage}
}

// CurrentUser decodes the user stored under UserKey
func (s *StorageIdentity) CurrentUser() (User, error) {
	raw, ok := s.storage.GetItem(UserKey)
	if !ok || raw == "" {
		return User{}, ErrNoUser
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, fmt.Errorf("decoding session user: %w", err)
	}
	return u, nil
}

// SetUser stores u under UserKey
func SetUser(storage Storage, u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding session user: %w", err)
	}
	return storage.SetItem(UserKey, string(data))
}

// Memory is an in-process Storage
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory creates an empty Memory storage
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// MemoryStore keeps one Memory storage per session id
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Memory
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Memory)}
}

// Session returns the Storage for session id, creating it on first use
func (m *MemoryStore) Session(id string) Storage {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = NewMemory()
		m.sessions[id] = s
	}
	return s
}

// Exists reports whether session id was ever used
func (m *MemoryStore) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Delete drops session id
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// IDs lists the known session ids
func (m *MemoryStore) IDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// Seen returns when the session behind storage was last attached
func Seen(storage Storage) (time.Time, bool) {
	raw, ok := storage.GetItem(SeenKey)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MarkSeen records t as the last time the session behind storage was attached
func MarkSeen(storage Storage, t time.Time) error {
	return storage.SetItem(SeenKey, t.UTC().Format(time.RFC3339))
}
