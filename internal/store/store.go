// Package store defines persistence for form sessions.
//
// Every write after [Store.Create] is optimistic: [Store.Put] succeeds only
// when the session's Version is exactly one above the stored version, so two
// writers that loaded the same snapshot cannot both commit. The loser gets
// [form.ErrVersionConflict] and must reload.
//
// Implementations live in the memstore, postgres and redisstore
// subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DanielWill-1/audentra/pkg/form"
)

// ErrSessionExists is returned by [Store.Create] when the id is taken.
var ErrSessionExists = errors.New("store: session already exists")

// Store persists sessions keyed by id. Implementations must be safe for
// concurrent use and must never hand out memory shared with their own state.
type Store interface {
	// Create inserts a new session.
	Create(ctx context.Context, s form.Session) error

	// Get returns the stored session or [form.ErrSessionNotFound].
	Get(ctx context.Context, id string) (form.Session, error)

	// Put replaces a stored session. s.Version must equal the stored
	// version plus one.
	Put(ctx context.Context, s form.Session) error

	// Delete removes a session. Deleting an unknown id returns
	// [form.ErrSessionNotFound].
	Delete(ctx context.Context, id string) error

	// IdleSince returns the ids of active sessions whose last update is
	// strictly before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// CheckNext returns [form.ErrVersionConflict] unless next is the direct
// successor of stored.
func CheckNext(stored int64, next form.Session) error {
	if next.Version != stored+1 {
		return form.ErrVersionConflict
	}
	return nil
}
