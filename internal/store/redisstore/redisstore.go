// Package redisstore is a Redis-backed [store.Store].
//
// Each session is a JSON document under "<prefix>session:<id>". Active
// sessions are also members of the "<prefix>idle" sorted set, scored by
// their last update in Unix milliseconds, which [Store.IdleSince] reads with
// a single range query. Writes use WATCH/MULTI so the version check and the
// write commit atomically.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/pkg/form"
)

const defaultPrefix = "audentra:"

var _ store.Store = (*Store)(nil)

// Store implements [store.Store] over a go-redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option is a functional option for Store.
type Option func(*Store)

// WithPrefix namespaces all keys. Default: "audentra:".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL expires a session document ttl after its last write. Zero keeps
// documents forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New wraps an existing client. The caller keeps ownership of the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial opens a client for addr and verifies it with PING.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	s := New(client, opts...)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(id string) string { return s.prefix + "session:" + id }
func (s *Store) idleKey() string      { return s.prefix + "idle" }

// write queues the document and idle-set update for sess on pipe.
func (s *Store) write(ctx context.Context, pipe redis.Pipeliner, sess form.Session, doc []byte) {
	pipe.Set(ctx, s.key(sess.ID), doc, s.ttl)
	if sess.Status.Active() {
		pipe.ZAdd(ctx, s.idleKey(), redis.Z{Score: float64(sess.UpdatedAt.UnixMilli()), Member: sess.ID})
	} else {
		pipe.ZRem(ctx, s.idleKey(), sess.ID)
	}
}

// Create implements [store.Store].
func (s *Store) Create(ctx context.Context, sess form.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis store: encode session: %w", err)
	}

	key := s.key(sess.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrSessionExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, sess, doc)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrSessionExists), errors.Is(err, redis.TxFailedErr):
		return store.ErrSessionExists
	default:
		return fmt.Errorf("redis store: create: %w", err)
	}
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (form.Session, error) {
	doc, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return form.Session{}, form.ErrSessionNotFound
		}
		return form.Session{}, fmt.Errorf("redis store: get: %w", err)
	}
	var sess form.Session
	if err := json.Unmarshal(doc, &sess); err != nil {
		return form.Session{}, fmt.Errorf("redis store: decode session %q: %w", id, err)
	}
	return sess, nil
}

// Put implements [store.Store].
func (s *Store) Put(ctx context.Context, sess form.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis store: encode session: %w", err)
	}

	key := s.key(sess.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return form.ErrSessionNotFound
			}
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(cur, &stored); err != nil {
			return fmt.Errorf("decode stored version: %w", err)
		}
		if err := store.CheckNext(stored.Version, sess); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, sess, doc)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return form.ErrVersionConflict
	case errors.Is(err, form.ErrSessionNotFound), errors.Is(err, form.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("redis store: put: %w", err)
	}
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.idleKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: delete: %w", err)
	}
	if del.Val() == 0 {
		return form.ErrSessionNotFound
	}
	return nil
}

// IdleSince implements [store.Store]. Members whose document has expired are
// pruned from the idle set.
func (s *Store) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.idleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: idle since: %w", err)
	}
	if len(ids) == 0 || s.ttl == 0 {
		return ids, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store: idle since: %w", err)
	}

	live := ids[:0]
	var gone []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := s.client.ZRem(ctx, s.idleKey(), gone...).Err(); err != nil {
			return nil, fmt.Errorf("redis store: prune idle set: %w", err)
		}
	}
	return live, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}
