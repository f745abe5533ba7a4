// Package api exposes the form-filling engine over HTTP/JSON.
//
// Routes:
//
//	POST   /v1/sessions                        start a session
//	GET    /v1/sessions/{id}                   current state
//	POST   /v1/sessions/{id}/utterances        text turn
//	POST   /v1/sessions/{id}/audio             audio turn (raw body)
//	PUT    /v1/sessions/{id}/fields/{fieldID}  explicit correction
//	DELETE /v1/sessions/{id}                   close the session
//	POST   /v1/speech                          synthesize a prompt
//
// Errors are JSON objects with an "error" message; see [statusFor] for the
// status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/DanielWill-1/audentra/internal/compose"
	"github.com/DanielWill-1/audentra/internal/engine"
	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/pkg/form"
	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

const (
	defaultMaxAudioBytes = 10 << 20
	maxJSONBytes         = 1 << 20
)

// Engine is the subset of [engine.Engine] served over HTTP.
type Engine interface {
	StartSession(ctx context.Context, fields []form.FieldSpec) (form.Session, error)
	GetState(ctx context.Context, id string) (form.Session, error)
	SubmitUtterance(ctx context.Context, id, text string) (engine.Result, error)
	SubmitAudio(ctx context.Context, id string, audio []byte, mimeType string) (engine.Result, error)
	ApplyUserCorrection(ctx context.Context, id, fieldID, value string) (form.Session, error)
	CloseSession(ctx context.Context, id string) (form.Session, error)
	Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error)
}

var _ Engine = (*engine.Engine)(nil)

// Option is a functional option for [New].
type Option func(*Handler)

// WithMaxAudioBytes caps audio uploads. Default: 10 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAudio = n
		}
	}
}

// Handler serves the session API.
type Handler struct {
	eng      Engine
	maxAudio int64
}

// New returns a Handler backed by eng.
func New(eng Engine, opts ...Option) *Handler {
	h := &Handler{eng: eng, maxAudio: defaultMaxAudioBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.startSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.closeSession)
	mux.HandleFunc("POST /v1/sessions/{id}/utterances", h.submitUtterance)
	mux.HandleFunc("POST /v1/sessions/{id}/audio", h.submitAudio)
	mux.HandleFunc("PUT /v1/sessions/{id}/fields/{fieldID}", h.correctField)
	mux.HandleFunc("POST /v1/speech", h.synthesize)
}

type startRequest struct {
	Fields []form.FieldSpec `json:"fields"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type correctionRequest struct {
	Value string `json:"value"`
}

type speechRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// turnResponse is the body returned for text and audio turns.
type turnResponse struct {
	Session          form.Session     `json:"session"`
	Response         compose.Response `json:"response"`
	FollowUpFieldIDs []string         `json:"follow_up_field_ids"`
	Transcript       string           `json:"transcript,omitempty"`
	Degraded         []string         `json:"degraded,omitempty"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Response *compose.Response `json:"response,omitempty"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.eng.StartSession(r.Context(), req.Fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.CloseSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) submitUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.eng.SubmitUtterance(r.Context(), r.PathValue("id"), req.Text)
	h.writeTurn(w, r, res, err)
}

func (h *Handler) submitAudio(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxAudio))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("audio exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read audio: " + err.Error()})
		return
	}
	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: "Content-Type is required"})
		return
	}
	res, err := h.eng.SubmitAudio(r.Context(), r.PathValue("id"), body, mimeType)
	h.writeTurn(w, r, res, err)
}

func (h *Handler) writeTurn(w http.ResponseWriter, r *http.Request, res engine.Result, err error) {
	if errors.Is(err, form.ErrEmptyUtterance) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:    err.Error(),
			Response: &res.Response,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{
		Session:          res.Session,
		Response:         res.Response,
		FollowUpFieldIDs: res.Response.FollowUpFieldIDs,
		Transcript:       res.Transcript,
		Degraded:         res.Degraded,
	})
}

func (h *Handler) correctField(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.eng.ApplyUserCorrection(r.Context(), r.PathValue("id"), r.PathValue("fieldID"), req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) synthesize(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	audio, err := h.eng.Synthesize(r.Context(), req.Text, tts.VoiceConfig{
		VoiceID:         req.VoiceID,
		Stability:       req.Stability,
		SimilarityBoost: req.SimilarityBoost,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", audio.MIMEType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, form.ErrInvalidSchema):
		return http.StatusBadRequest
	case errors.Is(err, form.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, form.ErrSessionClosed), errors.Is(err, form.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, form.ErrEmptyUtterance), errors.Is(err, form.ErrUnknownField),
		errors.Is(err, form.ErrInvalidValue), errors.Is(err, tts.ErrEmptyText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, asr.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, form.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = http.StatusText(status)
	} else {
		observe.Logger(r.Context()).Debug("api: request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a single JSON object into v. Unknown fields are rejected.
// On failure it writes a 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}
