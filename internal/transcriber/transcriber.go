// Package transcriber converts finished recordings into chat text.
package transcriber

import (
	"context"
	"errors"

	"github.com/jwulff/medibot/internal/recorder"
)

// PlaceholderText is sent in place of a transcript until a speech-to-text
// backend is configured.
const PlaceholderText = "Voice message received (speech-to-text processing would happen here)"

// ErrEmptyAudio is returned for recordings without data.
var ErrEmptyAudio = errors.New("transcriber: empty audio")

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio recorder.Audio) (string, error)
}

// Placeholder answers every non-empty recording with PlaceholderText.
type Placeholder struct{}

func (Placeholder) Transcribe(ctx context.Context, audio recorder.Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if audio.Empty() {
		return "", ErrEmptyAudio
	}
	return PlaceholderText, nil
}
