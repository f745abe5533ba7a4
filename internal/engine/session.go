package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/pkg/form"
)

// StartSession validates fields and creates an empty collecting session.
// A malformed schema returns an error wrapping [form.ErrInvalidSchema].
func (e *Engine) StartSession(ctx context.Context, fields []form.FieldSpec) (_ form.Session, err error) {
	ctx, span := observe.StartSpan(ctx, "engine.StartSession")
	defer func() { observe.EndSpan(span, err) }()

	if err := form.ValidateSchema(fields); err != nil {
		return form.Session{}, fmt.Errorf("engine: start session: %w", err)
	}
	s := form.NewSession(e.newID(), fields, e.now())
	span.SetAttributes(attribute.String("session.id", s.ID))
	ctx = observe.WithSession(ctx, s.ID)

	if err := e.store.Create(ctx, s); err != nil {
		return form.Session{}, fmt.Errorf("engine: start session: %w", err)
	}
	e.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("engine: session started", "fields", len(fields))
	return s, nil
}

// GetState returns the stored session.
func (e *Engine) GetState(ctx context.Context, id string) (form.Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return form.Session{}, fmt.Errorf("engine: get state: %w", err)
	}
	return s, nil
}

// ApplyUserCorrection sets fieldID from an explicit user edit. The value is
// locked at confidence 1 and any pending contradiction on the field is
// resolved. An empty value clears the field. Unknown fields return an error
// wrapping [form.ErrUnknownField] and leave the session unchanged.
func (e *Engine) ApplyUserCorrection(ctx context.Context, id, fieldID, value string) (_ form.Session, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "engine.ApplyUserCorrection",
		trace.WithAttributes(attribute.String("field.id", fieldID)))
	defer func() { observe.EndSpan(span, err) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return s, fmt.Errorf("engine: apply correction: %w", err)
	}
	next, err := e.pipeline.Load().state.ApplyCorrection(s, fieldID, value)
	if err != nil {
		return s, fmt.Errorf("engine: apply correction: %w", err)
	}
	if err := e.commit(ctx, s, &next); err != nil {
		return s, fmt.Errorf("engine: apply correction: %w", err)
	}
	observe.Logger(ctx).Info("engine: field corrected", "field", fieldID, "status", next.Status)
	return next, nil
}

// CloseSession marks the session abandoned. Closing an abandoned session
// returns it unchanged.
func (e *Engine) CloseSession(ctx context.Context, id string) (_ form.Session, err error) {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "engine.CloseSession")
	defer func() { observe.EndSpan(span, err) }()

	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.store.Get(ctx, id)
	if err != nil {
		return form.Session{}, fmt.Errorf("engine: close session: %w", err)
	}
	if s.Status == form.StatusAbandoned {
		return s, nil
	}
	next := e.pipeline.Load().state.Close(s)
	if err := e.commit(ctx, s, &next); err != nil {
		return s, fmt.Errorf("engine: close session: %w", err)
	}
	observe.Logger(ctx).Info("engine: session closed")
	return next, nil
}

// ExpireIdle abandons every active session without activity for longer
// than timeout and returns their ids. A session touched between the lookup
// and its turn under the lock is left alone.
func (e *Engine) ExpireIdle(ctx context.Context, timeout time.Duration) (_ []string, err error) {
	ctx, span := observe.StartSpan(ctx, "engine.ExpireIdle")
	defer func() { observe.EndSpan(span, err) }()

	cutoff := e.now().Add(-timeout)
	ids, err := e.store.IdleSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("engine: expire idle: %w", err)
	}

	var expired []string
	var errs []error
	for _, id := range ids {
		ok, err := e.expire(ctx, id, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		e.metrics.SessionsExpired.Add(ctx, int64(len(expired)))
		observe.Logger(ctx).Info("engine: idle sessions abandoned", "count", len(expired))
	}
	if err := errors.Join(errs...); err != nil {
		return expired, fmt.Errorf("engine: expire idle: %w", err)
	}
	return expired, nil
}

func (e *Engine) expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	s, err := e.store.Get(ctx, id)
	if errors.Is(err, form.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.Status.Active() || !s.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	next := e.pipeline.Load().state.Close(s)
	if err := e.commit(ctx, s, &next); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep calls [Engine.ExpireIdle] every interval with the current idle
// timeout until ctx is cancelled. Sweep errors are logged and the loop
// continues.
func (e *Engine) Sweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			timeout := e.Tuning().IdleTimeout
			if timeout <= 0 {
				continue
			}
			if _, err := e.ExpireIdle(ctx, timeout); err != nil && ctx.Err() == nil {
				observe.Logger(ctx).Warn("engine: idle sweep failed", "err", err)
			}
		}
	}
}

// load returns the session for a mutating operation. Abandoned sessions
// yield [form.ErrSessionClosed].
func (e *Engine) load(ctx context.Context, id string) (form.Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return form.Session{}, err
	}
	if s.Status == form.StatusAbandoned {
		return s, fmt.Errorf("session %q: %w", id, form.ErrSessionClosed)
	}
	return s, nil
}

// commit writes next as the successor of prev.
func (e *Engine) commit(ctx context.Context, prev form.Session, next *form.Session) error {
	next.Version = prev.Version + 1
	if err := e.store.Put(ctx, *next); err != nil {
		return err
	}
	e.trackActive(ctx, prev.Status, next.Status)
	return nil
}
