// Package storetest holds the behaviour every [store.Store] must share.
// Backend tests call [Run] with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DanielWill-1/audentra/internal/store"
	"github.com/DanielWill-1/audentra/pkg/form"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Session returns a small session with one accepted value, suitable for
// round-trip checks.
func Session(id string, updated time.Time) form.Session {
	s := form.NewSession(id, []form.FieldSpec{
		{ID: "name", Type: form.TypeText, Label: "Full name", Required: true},
		{ID: "plan", Type: form.TypeSelect, Label: "Plan", Options: []string{"Basic", "Pro"}},
	}, t0)
	s.Values["name"] = form.FieldValue{
		Value:      form.TextValue("Ann Lee"),
		Confidence: 0.6,
		SourceTurn: 1,
		Source:     form.SourceRule,
	}
	s.History = []form.Utterance{{Text: "I'm Ann Lee", TurnIndex: 1, Timestamp: t0}}
	s.UpdatedAt = updated
	return s
}

// Run exercises a store produced by newStore. Each subtest gets its own
// store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		st := newStore(t)
		in := Session("s1", t0)
		if err := st.Create(ctx, in); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := st.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != "s1" || got.Version != 0 || got.Status != form.StatusCollecting {
			t.Errorf("Get = %+v", got)
		}
		if v := got.Values["name"]; !v.Value.Equal(form.TextValue("Ann Lee")) || v.Confidence != 0.6 {
			t.Errorf("name = %+v", v)
		}
		if len(got.Fields) != 2 || got.Fields[1].Options[1] != "Pro" {
			t.Errorf("Fields = %+v", got.Fields)
		}
		if len(got.History) != 1 || !got.UpdatedAt.Equal(t0) {
			t.Errorf("History/UpdatedAt = %+v / %v", got.History, got.UpdatedAt)
		}
	})

	t.Run("create twice", func(t *testing.T) {
		st := newStore(t)
		_ = st.Create(ctx, Session("s1", t0))
		if err := st.Create(ctx, Session("s1", t0)); !errors.Is(err, store.ErrSessionExists) {
			t.Fatalf("err = %v, want ErrSessionExists", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Get(ctx, "nope"); !errors.Is(err, form.ErrSessionNotFound) {
			t.Fatalf("err = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		st := newStore(t)
		in := Session("s1", t0)
		_ = st.Create(ctx, in)
		in.Values["name"] = form.FieldValue{Value: form.TextValue("changed")}
		got, _ := st.Get(ctx, "s1")
		got.Values["plan"] = form.FieldValue{Value: form.ChoiceValue("Pro")}
		again, _ := st.Get(ctx, "s1")
		if again.Values["name"].Value.Text != "Ann Lee" {
			t.Errorf("store shares memory with caller input")
		}
		if _, ok := again.Values["plan"]; ok {
			t.Errorf("store shares memory with returned session")
		}
	})

	t.Run("put requires next version", func(t *testing.T) {
		st := newStore(t)
		s := Session("s1", t0)
		_ = st.Create(ctx, s)

		stale := s.Clone()
		stale.Version = 0
		if err := st.Put(ctx, stale); !errors.Is(err, form.ErrVersionConflict) {
			t.Fatalf("same version: err = %v, want ErrVersionConflict", err)
		}
		skip := s.Clone()
		skip.Version = 2
		if err := st.Put(ctx, skip); !errors.Is(err, form.ErrVersionConflict) {
			t.Fatalf("skipped version: err = %v, want ErrVersionConflict", err)
		}

		next := s.Clone()
		next.Version = 1
		next.Status = form.StatusReady
		if err := st.Put(ctx, next); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, _ := st.Get(ctx, "s1")
		if got.Version != 1 || got.Status != form.StatusReady {
			t.Errorf("after Put = v%d %s", got.Version, got.Status)
		}
	})

	t.Run("put missing", func(t *testing.T) {
		st := newStore(t)
		s := Session("ghost", t0)
		s.Version = 1
		if err := st.Put(ctx, s); !errors.Is(err, form.ErrSessionNotFound) {
			t.Fatalf("err = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("concurrent puts admit one winner", func(t *testing.T) {
		st := newStore(t)
		s := Session("s1", t0)
		_ = st.Create(ctx, s)

		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			won     int
			lost    int
			unknown []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := s.Clone()
				next.Version = 1
				err := st.Put(ctx, next)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					won++
				case errors.Is(err, form.ErrVersionConflict):
					lost++
				default:
					unknown = append(unknown, err)
				}
			}()
		}
		wg.Wait()
		if won != 1 || lost != writers-1 || len(unknown) > 0 {
			t.Errorf("won=%d lost=%d other=%v", won, lost, unknown)
		}
	})

	t.Run("delete", func(t *testing.T) {
		st := newStore(t)
		_ = st.Create(ctx, Session("s1", t0))
		if err := st.Delete(ctx, "s1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := st.Get(ctx, "s1"); !errors.Is(err, form.ErrSessionNotFound) {
			t.Fatalf("Get after Delete: %v", err)
		}
		if err := st.Delete(ctx, "s1"); !errors.Is(err, form.ErrSessionNotFound) {
			t.Fatalf("second Delete: %v", err)
		}
		ids, _ := st.IdleSince(ctx, t0.Add(time.Hour))
		if len(ids) != 0 {
			t.Errorf("IdleSince after Delete = %v", ids)
		}
	})

	t.Run("idle since", func(t *testing.T) {
		st := newStore(t)
		old := Session("old", t0)
		fresh := Session("fresh", t0.Add(20*time.Minute))
		done := Session("done", t0)
		done.Status = form.StatusReady
		gone := Session("gone", t0)
		gone.Status = form.StatusAbandoned
		clar := Session("clar", t0.Add(5*time.Minute))
		clar.Status = form.StatusClarifying
		for _, s := range []form.Session{old, fresh, done, gone, clar} {
			if err := st.Create(ctx, s); err != nil {
				t.Fatalf("Create %s: %v", s.ID, err)
			}
		}

		ids, err := st.IdleSince(ctx, t0.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("IdleSince: %v", err)
		}
		slices.Sort(ids)
		if want := []string{"clar", "old"}; !slices.Equal(ids, want) {
			t.Errorf("IdleSince = %v, want %v", ids, want)
		}

		// Touching a session moves it out of the idle set.
		touched := old.Clone()
		touched.Version = 1
		touched.UpdatedAt = t0.Add(30 * time.Minute)
		if err := st.Put(ctx, touched); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids, _ = st.IdleSince(ctx, t0.Add(10*time.Minute))
		if want := []string{"clar"}; !slices.Equal(ids, want) {
			t.Errorf("after touch IdleSince = %v, want %v", ids, want)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
