// Package deepgram provides an ASR provider backed by the Deepgram streaming
// WebSocket API.
//
// Each call to Transcribe opens one listen stream, uploads the recording in
// chunks, asks Deepgram to flush with a CloseStream message and joins the
// final results that arrive before the server closes the connection.
//
// Usage:
//
//	p, err := deepgram.New(apiKey, deepgram.WithModel("nova-3"))
//	t, err := p.Transcribe(ctx, wav, "audio/wav")
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkSize is the size of one binary frame sent to Deepgram.
	chunkSize = 8192
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the listen endpoint, e.g. for a self-hosted
// Deepgram deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements asr.Provider. WAV uploads are sent as is and
// Deepgram reads the header; audio/L16 is declared as linear16 with the rate
// and channels parameters of the media type.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (asr.Transcript, error) {
	wsURL, err := p.buildURL(mimeType)
	if err != nil {
		return asr.Transcript{}, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	for len(audio) > 0 {
		n := min(chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[:n]); err != nil {
			return asr.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
		audio = audio[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return asr.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var acc accumulator
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return asr.Transcript{}, ctx.Err()
			}
			return asr.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		acc.add(msg)
	}
	return acc.transcript(), nil
}

// buildURL constructs the listen endpoint URL for one upload.
func (p *Provider) buildURL(mimeType string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("deepgram: parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")

	mt, params := asr.MediaType(mimeType)
	switch mt {
	case asr.MIMEWAV, "audio/x-wav", "audio/wave":
	case asr.MIMEL16:
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(atoiOr(params["rate"], defaultSampleRate)))
		q.Set("channels", strconv.Itoa(atoiOr(params["channels"], 1)))
	default:
		return "", fmt.Errorf("deepgram: %q: %w", mimeType, asr.ErrUnsupportedFormat)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// accumulator joins final results. Interim results and other event types
// are ignored.
type accumulator struct {
	parts   []string
	confSum float64
}

func (a *accumulator) add(data []byte) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return
	}
	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return
	}
	a.parts = append(a.parts, text)
	a.confSum += alt.Confidence
}

// transcript returns the joined text and the mean confidence of the
// non-empty final segments. Silence yields an empty transcript with
// confidence 1.
func (a *accumulator) transcript() asr.Transcript {
	if len(a.parts) == 0 {
		return asr.Transcript{Confidence: 1}
	}
	return asr.Transcript{
		Text:       strings.Join(a.parts, " "),
		Confidence: a.confSum / float64(len(a.parts)),
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

var _ asr.Provider = (*Provider)(nil)
