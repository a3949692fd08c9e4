package synth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/otohalabs/otoha/internal/artifact"
	"github.com/otohalabs/otoha/internal/config"
	"github.com/otohalabs/otoha/internal/protocol"
)

const (
	maxTextRunes = 120
	minRate      = 100
	maxRate      = 300
	minPitch     = 10
	maxPitch     = 90
)

// Artifact describes one persisted generation result.
type Artifact struct {
	VoiceID      string
	Size         int
	SHA256       string
	DownloadPath string
	Settings     protocol.VoiceSettings
}

// GenerateRequest carries caller-supplied parameters before normalization.
type GenerateRequest struct {
	Text  string
	Voice string
	Rate  int
	Pitch int
}

// Service orchestrates one synthesis end to end: validate, resolve the
// voice, invoke the backend, hash and persist.
type Service struct {
	cfg     config.SynthConfig
	backend Backend
	store   *artifact.Store
	log     *slog.Logger
	clock   func() time.Time
	suffix  func() string

	generationsTotal metric.Int64Counter
}

func NewService(cfg config.SynthConfig, backend Backend, store *artifact.Store, log *slog.Logger) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		backend: backend,
		store:   store,
		log:     log.With(slog.String("component", "synth-service")),
		clock:   time.Now,
		suffix: func() string {
			id := uuid.New()
			return hex.EncodeToString(id[:])
		},
	}

	var err error
	if s.generationsTotal, err = otel.Meter("otoha/synth").Int64Counter("synth_generations_total",
		metric.WithDescription("Artifacts generated and persisted")); err != nil {
		return nil, err
	}

	return s, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// resolveVoice matches the requested name against backend voices, exact
// first, then case-insensitive. Runs before any synthesis work.
func (s *Service) resolveVoice(ctx context.Context, requested string) (string, error) {
	voices, err := s.backend.Voices(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: enumerate voices: %v", ErrSynthesisFailed, err)
	}
	for _, v := range voices {
		if v.Name == requested {
			return v.Name, nil
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Name, requested) {
			return v.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrVoiceNotAvailable, requested)
}

func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Artifact, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	requested := req.Voice
	if requested == "" {
		requested = s.cfg.DefaultVoice
	}
	// Out-of-range tuning values are clamped, not rejected.
	rate := clamp(req.Rate, minRate, maxRate)
	pitch := clamp(req.Pitch, minPitch, maxPitch)
	clipped := clipRunes(text, maxTextRunes)

	resolved, err := s.resolveVoice(ctx, requested)
	if err != nil {
		return nil, err
	}

	s.log.Info("synthesis request",
		slog.String("text", clipRunes(clipped, 30)),
		slog.String("requested", requested),
		slog.String("resolved", resolved),
		slog.Int("rate", rate),
		slog.Int("pitch", pitch))

	data, err := s.backend.Synthesize(ctx, Request{Text: clipped, Voice: resolved, Rate: rate, Pitch: pitch})
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: backend produced invalid wav", ErrSynthesisFailed)
	}

	sum := sha256.Sum256(data)
	voiceID := fmt.Sprintf("%d_%s", s.clock().Unix(), s.suffix())

	if err := s.store.Put(voiceID, data); err != nil {
		return nil, fmt.Errorf("persist artifact: %w", err)
	}
	s.generationsTotal.Add(ctx, 1)

	art := &Artifact{
		VoiceID:      voiceID,
		Size:         len(data),
		SHA256:       hex.EncodeToString(sum[:]),
		DownloadPath: "/voice/" + voiceID,
		Settings: protocol.VoiceSettings{
			Text:           clipped,
			Voice:          resolved,
			RequestedVoice: requested,
			Rate:           rate,
			Pitch:          pitch,
			Engine:         s.backend.Name(),
		},
	}

	s.log.Info("synthesis done",
		slog.String("voice_id", art.VoiceID),
		slog.Int("size", art.Size),
		slog.String("sha256", art.SHA256))

	return art, nil
}

// Fetch returns stored artifact bytes.
func (s *Service) Fetch(voiceID string) ([]byte, error) {
	return s.store.Get(voiceID)
}

// Sweep applies retention to the artifact store.
func (s *Service) Sweep(maxAge time.Duration, keepLatest bool) (int, error) {
	return s.store.Sweep(maxAge, keepLatest)
}

// ListVoices passes through the backend enumeration, uncached.
func (s *Service) ListVoices(ctx context.Context) ([]Voice, error) {
	return s.backend.Voices(ctx)
}
