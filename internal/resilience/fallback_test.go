package resilience

import (
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    map[string]error
		want    string
		wantErr error
	}{
		{name: "primary success", want: "primary"},
		{name: "failover", fail: map[string]error{"primary": errTest}, want: "secondary"},
		{name: "all fail", fail: map[string]error{"primary": errTest, "secondary": errTest}, wantErr: ErrAllFailed},
		{name: "permanent stops the walk", fail: map[string]error{"primary": Permanent(errTest)}, wantErr: errTest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called []string
			got, err := ExecuteWithResult(newGroup(3), func(v string) (string, error) {
				called = append(called, v)
				if e := tt.fail[v]; e != nil {
					return "", e
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q (called %v)", got, tt.want, called)
			}
		})
	}
}

func TestFallbackGroup_PermanentDoesNotTryFallback(t *testing.T) {
	t.Parallel()

	var called []string
	err := newGroup(3).Execute(func(v string) error {
		called = append(called, v)
		return Permanent(errTest)
	})
	if !IsPermanent(err) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only primary", called)
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()

	fg := newGroup(2)
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if s := fg.States(); s["primary"] != StateOpen || s["secondary"] != StateClosed {
		t.Fatalf("States = %v", s)
	}

	var called string
	if err := fg.Execute(func(v string) error { called = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestFallbackGroup_AllFailWrapsLastError(t *testing.T) {
	t.Parallel()

	last := errors.New("secondary down")
	err := newGroup(3).Execute(func(v string) error {
		if v == "secondary" {
			return last
		}
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping %v", err, last)
	}
}

func TestFallbackGroup_Len(t *testing.T) {
	t.Parallel()

	if n := newGroup(1).Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}
