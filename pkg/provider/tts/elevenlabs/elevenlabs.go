// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface by sending the whole reply as one fragment and collecting the
// audio chunks until the server marks the stream final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithEndpoint overrides the WebSocket base URL (scheme and host).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	endpoint     string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	voiceID := voice.VoiceID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return tts.Audio{}, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.buildURL(voiceID), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(8 << 20)

	vs := settings(voice)
	msgs := []any{
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", Flush: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var audio []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(audio) > 0 {
				break
			}
			return tts.Audio{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Audio{}, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			audio = append(audio, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(audio) == 0 {
		return tts.Audio{}, errors.New("elevenlabs: no audio received")
	}
	return tts.Audio{Data: audio, MIMEType: mimeType(p.outputFormat)}, nil
}

func (p *Provider) buildURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.endpoint, url.PathEscape(voiceID), q.Encode())
}

func settings(v tts.VoiceConfig) *voiceSettings {
	vs := &voiceSettings{Stability: defaultStability, SimilarityBoost: defaultSimilarityBoost}
	if v.Stability > 0 {
		vs.Stability = v.Stability
	}
	if v.SimilarityBoost > 0 {
		vs.SimilarityBoost = v.SimilarityBoost
	}
	return vs
}

// mimeType maps an ElevenLabs output format to a media type.
func mimeType(format string) string {
	codec, rest, _ := strings.Cut(format, "_")
	rate, _, _ := strings.Cut(rest, "_")
	switch codec {
	case "pcm":
		return "audio/L16; rate=" + rate + "; channels=1"
	case "mp3":
		return "audio/mpeg"
	case "ulaw":
		return "audio/basic"
	case "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

var _ tts.Provider = (*Provider)(nil)
