package transcriber

import (
	"context"
	"errors"
	"testing"

	"github.com/jwulff/medibot/internal/recorder"
)

func TestPlaceholder(t *testing.T) {
	var tr Transcriber = Placeholder{}

	got, err := tr.Transcribe(context.Background(), recorder.Audio{Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != PlaceholderText {
		t.Errorf("text = %q, want %q", got, PlaceholderText)
	}

	if _, err := tr.Transcribe(context.Background(), recorder.Audio{}); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("empty audio err = %v, want ErrEmptyAudio", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transcribe(ctx, recorder.Audio{Data: []byte{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v, want context.Canceled", err)
	}
}
