// Package whisper provides an ASR provider backed by a whisper.cpp server.
//
// It posts each utterance to the server's REST endpoint (POST /inference) as
// a WAV file. Raw 16-bit PCM (audio/L16) is wrapped in a RIFF/WAV container
// first; WAV uploads are forwarded unchanged. Recordings whose energy stays
// below a silence threshold are answered locally with an empty transcript.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, pcm, "audio/L16; rate=16000; channels=1")
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the sample rate assumed for audio/L16 uploads that do
// not carry a rate parameter. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceRMS sets the energy threshold below which PCM input is treated
// as silence and not sent to the server. Zero disables the check.
func WithSilenceRMS(rms float64) Option {
	return func(p *Provider) {
		p.silenceRMS = rms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements asr.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements asr.Provider. Accepted media types are audio/wav,
// audio/x-wav, audio/wave and audio/L16 (rate and channels parameters
// honoured).
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (asr.Transcript, error) {
	mt, params := asr.MediaType(mimeType)

	var wav []byte
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		wav = audio
	case "audio/l16":
		rate := atoiOr(params["rate"], p.sampleRate)
		channels := atoiOr(params["channels"], 1)
		if p.silenceRMS > 0 && computeRMS(audio) < p.silenceRMS {
			return asr.Transcript{}, nil
		}
		wav = encodeWAV(audio, rate, channels)
	default:
		return asr.Transcript{}, fmt.Errorf("whisper: %q: %w", mimeType, asr.ErrUnsupportedFormat)
	}

	return p.infer(ctx, wav)
}

// inferenceResponse is the verbose_json shape returned by whisper-server.
// Older servers only send text.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (p *Provider) infer(ctx context.Context, wav []byte) (asr.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        p.language,
		"model":           p.model,
	}
	for _, k := range []string{"response_format", "language", "model"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return asr.Transcript{
		Text:       strings.TrimSpace(result.Text),
		Confidence: confidence(result),
	}, nil
}

// confidence converts the mean segment log-probability into [0, 1]. Without
// segment scores the transcript is trusted fully.
func confidence(r inferenceResponse) float64 {
	var sum float64
	var n int
	for _, s := range r.Segments {
		if s.AvgLogprob != nil {
			sum += *s.AvgLogprob
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return math.Min(1, math.Max(0, math.Exp(sum/float64(n))))
}

func atoiOr(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
