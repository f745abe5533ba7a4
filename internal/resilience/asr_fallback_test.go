package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/DanielWill-1/audentra/pkg/provider/asr"
	asrmock "github.com/DanielWill-1/audentra/pkg/provider/asr/mock"
)

func TestASRFallback_Transcribe(t *testing.T) {
	t.Parallel()

	primary := &asrmock.Provider{Err: errors.New("whisper down")}
	secondary := &asrmock.Provider{Result: asr.Transcript{Text: "my name is ann", Confidence: 0.9}}
	fb := NewASRFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("whisper-backup", secondary)

	got, err := fb.Transcribe(context.Background(), []byte("RIFF"), asr.MIMEWAV)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "my name is ann" {
		t.Errorf("Text = %q", got.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if secondary.Calls[0].MIMEType != asr.MIMEWAV || string(secondary.Calls[0].Audio) != "RIFF" {
		t.Errorf("forwarded call = %+v", secondary.Calls[0])
	}
}

func TestASRFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewASRFallback(&asrmock.Provider{Err: errors.New("down")}, "whisper", FallbackConfig{})
	if _, err := fb.Transcribe(context.Background(), nil, asr.MIMEWAV); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
