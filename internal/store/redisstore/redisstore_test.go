package redisstore_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/internal/store/redisstore"
	"github.com/DanielWill-1/audentra/internal/store/storetest"
	"github.com/DanielWill-1/audentra/pkg/form"
)

func newTestStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, opts...), mr
}

func TestStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		st, _ := newTestStore(t)
		return st
	})
}

func TestStore_KeyLayout(t *testing.T) {
	t.Parallel()

	st, mr := newTestStore(t, redisstore.WithPrefix("test:"))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := st.Create(ctx, storetest.Session("s1", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists("test:session:s1") {
		t.Fatalf("keys = %v", mr.Keys())
	}
	score, err := mr.ZScore("test:idle", "s1")
	if err != nil || score != float64(now.UnixMilli()) {
		t.Errorf("idle score = %v (err %v)", score, err)
	}
}

func TestStore_ClosedSessionLeavesIdleSet(t *testing.T) {
	t.Parallel()

	st, mr := newTestStore(t)
	ctx := context.Background()
	s := storetest.Session("s1", time.Now())
	_ = st.Create(ctx, s)

	s.Version = 1
	s.Status = form.StatusAbandoned
	if err := st.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	members, _ := mr.ZMembers("audentra:idle")
	if slices.Contains(members, "s1") {
		t.Errorf("idle set = %v, want s1 removed", members)
	}
}

func TestStore_TTL(t *testing.T) {
	t.Parallel()

	st, mr := newTestStore(t, redisstore.WithTTL(time.Hour))
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	_ = st.Create(ctx, storetest.Session("old", past))
	_ = st.Create(ctx, storetest.Session("kept", past))

	if ttl := mr.TTL("audentra:session:old"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}

	// Rewrite "kept" half way so only "old" expires.
	mr.FastForward(30 * time.Minute)
	kept, _ := st.Get(ctx, "kept")
	kept.Version = 1
	if err := st.Put(ctx, kept); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(45 * time.Minute)

	if _, err := st.Get(ctx, "old"); !errors.Is(err, form.ErrSessionNotFound) {
		t.Fatalf("Get expired: err = %v", err)
	}
	ids, err := st.IdleSince(ctx, time.Now())
	if err != nil {
		t.Fatalf("IdleSince: %v", err)
	}
	if want := []string{"kept"}; !slices.Equal(ids, want) {
		t.Errorf("IdleSince = %v, want %v", ids, want)
	}
	members, _ := mr.ZMembers("audentra:idle")
	if slices.Contains(members, "old") {
		t.Errorf("expired member not pruned: %v", members)
	}
}

func TestStore_PingDown(t *testing.T) {
	t.Parallel()

	st, mr := newTestStore(t)
	mr.Close()
	if err := st.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error after server shutdown")
	}
}

func TestDial(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	st, err := redisstore.Dial(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
