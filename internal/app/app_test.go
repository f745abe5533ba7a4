package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/DanielWill-1/audentra/internal/app"
	"github.com/DanielWill-1/audentra/internal/config"
	"github.com/DanielWill-1/audentra/internal/observe"
	"github.com/DanielWill-1/audentra/internal/store/memstore"
	"github.com/DanielWill-1/audentra/pkg/provider/llm"
	llmmock "github.com/DanielWill-1/audentra/pkg/provider/llm/mock"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
	ttsmock "github.com/DanielWill-1/audentra/pkg/provider/tts/mock"
)

const schema = `{"fields":[
	{"id":"name","type":"text","label":"Full name","required":true},
	{"id":"company","type":"text","label":"Employer"}
]}`

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Defaults())
	h := a.Handler()

	rec := serve(t, h, http.MethodPost, "/v1/sessions", schema)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := serve(t, h, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, body = %s", path, rec.Code, rec.Body)
		}
	}
}

func TestNew_RedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Store.Redis.Prefix = "test:"

	a := newApp(t, cfg)
	rec := serve(t, a.Handler(), http.MethodPost, "/v1/sessions", schema)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status = %d, body = %s", rec.Code, rec.Body)
	}
	keys := mr.Keys()
	found := false
	for _, k := range keys {
		if strings.HasPrefix(k, "test:session:") {
			found = true
		}
	}
	if !found {
		t.Errorf("no session key in redis, keys = %v", keys)
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Defaults()
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.Redis.Addr = addr
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := app.New(ctx, cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Providers.TTS = config.ProviderEntry{Name: "nope"}
	_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)), app.WithStore(memstore.New()))
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestTTSFallback(t *testing.T) {
	t.Parallel()

	flaky := &ttsmock.Provider{Err: errors.New("quota exceeded")}
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	reg.RegisterTTS("flaky", func(config.ProviderEntry) (tts.Provider, error) { return flaky, nil })

	cfg := config.Defaults()
	cfg.Providers.TTS = config.ProviderEntry{
		Name:      "flaky",
		Fallbacks: []config.ProviderEntry{{Name: "text"}},
	}
	a := newApp(t, cfg, app.WithRegistry(reg))

	rec := serve(t, a.Handler(), http.MethodPost, "/v1/speech", `{"text":"What is your name?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Body.String(); got != "What is your name?" {
		t.Errorf("body = %q", got)
	}
	if n := flaky.CallCount(); n != 1 {
		t.Errorf("primary calls = %d, want 1", n)
	}
	if rec := serve(t, a.Handler(), http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz: status = %d", rec.Code)
	}
}

func TestEnhancementWiring(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"fields":[{"id":"company","value":"Acme","confidence":0.9}]}`,
	}}
	reg := config.NewRegistry()
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return model, nil })

	cfg := config.Defaults()
	cfg.Providers.LLM = config.ProviderEntry{Name: "fake", Model: "m"}
	cfg.Enhancement.Enabled = true

	st := memstore.New()
	a := newApp(t, cfg, app.WithRegistry(reg), app.WithStore(st))
	h := a.Handler()

	rec := serve(t, h, http.MethodPost, "/v1/sessions", schema)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status = %d", rec.Code)
	}
	id := sessionID(t, rec.Body)

	rec = serve(t, h, http.MethodPost, "/v1/sessions/"+id+"/utterances", `{"text":"I work at Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("utterance: status = %d, body = %s", rec.Code, rec.Body)
	}
	a.Engine().Wait()

	s, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := s.Values["company"].Value.Text; got != "Acme" {
		t.Errorf("company = %q, want Acme", got)
	}
	if len(model.Calls()) == 0 {
		t.Error("llm was not called")
	}
}

func TestOnConfigChange(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	old := config.Defaults()
	a := newApp(t, old, app.WithLogLevel(lv))

	next := config.Defaults()
	next.Server.LogLevel = config.LogDebug
	next.Dialog.AcceptThreshold = 0.8
	next.Dialog.CorrectionCues = []string{"scratch that"}

	a.OnConfigChange(old, next, config.Diff(old, next))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	tun := a.Engine().Tuning()
	if tun.AcceptThreshold != 0.8 {
		t.Errorf("AcceptThreshold = %v, want 0.8", tun.AcceptThreshold)
	}
	if len(tun.CorrectionCues) != 1 || tun.CorrectionCues[0] != "scratch that" {
		t.Errorf("CorrectionCues = %v", tun.CorrectionCues)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), config.Defaults(), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func sessionID(t *testing.T, body io.Reader) string {
	t.Helper()
	var s struct {
		ID string `json:"session_id"`
	}
	if err := json.NewDecoder(body).Decode(&s); err != nil || s.ID == "" {
		t.Fatalf("decode session id: %v", err)
	}
	return s.ID
}
