// Package memstore is an in-process [store.Store]. Sessions are lost on
// restart; it backs tests and single-instance deployments.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// Store keeps deep copies of sessions in a map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]form.Session
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]form.Session)}
}

// Create implements [store.Store].
func (m *Store) Create(_ context.Context, s form.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return store.ErrSessionExists
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get implements [store.Store].
func (m *Store) Get(_ context.Context, id string) (form.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return form.Session{}, form.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Put implements [store.Store].
func (m *Store) Put(_ context.Context, s form.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return form.ErrSessionNotFound
	}
	if err := store.CheckNext(cur.Version, s); err != nil {
		return err
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete implements [store.Store].
func (m *Store) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return form.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// IdleSince implements [store.Store]. Ids are returned sorted.
func (m *Store) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Status.Active() && s.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Ping implements [store.Store]. It always succeeds.
func (m *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored sessions.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
