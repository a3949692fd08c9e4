package synth

import (
	"context"
	"errors"
)

// Request carries the effective parameters handed to a backend. Text is
// already clipped and rate/pitch already clamped by the service.
type Request struct {
	Text  string
	Voice string
	Rate  int
	Pitch int
}

// Voice is one synthesizer voice a backend can speak with.
type Voice struct {
	Name     string
	Language string
}

// Backend is a pluggable speech synthesizer producing mono 16-bit PCM WAV.
type Backend interface {
	// Synthesize converts text to WAV bytes.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	// Voices enumerates the voices available to this backend.
	Voices(ctx context.Context) ([]Voice, error)
	// Name identifies the backend in artifact settings.
	Name() string
}

var (
	// ErrEmptyText reports a generate request with no text after trimming.
	ErrEmptyText = errors.New("text is required")
	// ErrVoiceNotAvailable reports a requested voice the backend cannot speak.
	ErrVoiceNotAvailable = errors.New("voice not available")
	// ErrSynthesisFailed reports a backend or transcode failure.
	ErrSynthesisFailed = errors.New("synthesis failed")
)
