package form

import "errors"

// Caller-input errors. These are the only errors the engine reports back as
// explicit failures; provider problems are degraded locally.
var (
	// ErrEmptyUtterance is returned when a turn contains no usable text. The
	// turn index is not advanced.
	ErrEmptyUtterance = errors.New("empty utterance")

	// ErrUnknownField is returned when a correction references a field id
	// that is not part of the session's schema. The session is unchanged.
	ErrUnknownField = errors.New("unknown field")

	// ErrSessionNotFound is returned for operations on a session id that was
	// never created or has been deleted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSchema is returned by StartSession for malformed field lists.
	ErrInvalidSchema = errors.New("invalid form schema")

	// ErrInvalidValue is returned when an explicit correction cannot be
	// parsed for the field's type.
	ErrInvalidValue = errors.New("invalid field value")

	// ErrSessionClosed is returned when a turn or correction targets an
	// abandoned session.
	ErrSessionClosed = errors.New("session closed")
)

// Infrastructure errors.
var (
	// ErrProviderUnavailable marks a failing ASR, LLM or TTS provider. Within
	// the turn pipeline it is always recovered; it only surfaces from
	// operations that have no deterministic fallback output, such as speech
	// synthesis with no fallback configured.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrVersionConflict is returned by a store when a write lost an
	// optimistic concurrency race.
	ErrVersionConflict = errors.New("session version conflict")
)
