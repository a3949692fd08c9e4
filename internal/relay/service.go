package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/otohalabs/otoha/internal/bus"
	"github.com/otohalabs/otoha/internal/config"
	"github.com/otohalabs/otoha/internal/memory"
	"github.com/otohalabs/otoha/internal/protocol"
	"github.com/otohalabs/otoha/internal/responder"
)

// VoiceGenerator is the relay's view of the voice host.
type VoiceGenerator interface {
	Generate(ctx context.Context, text, voice string, rate, pitch int) (*GeneratedVoice, error)
	Cleanup(ctx context.Context, maxAgeSeconds int, keepLatest bool) (int, error)
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

// ConversationLog is the slice of the memory store the relay writes to.
type ConversationLog interface {
	AddConversation(ctx context.Context, speaker, input, output string) error
	Context(ctx context.Context, speaker string, limit int) ([]memory.Exchange, error)
}

type pollPayload struct {
	Notification *struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	} `json:"notification"`
}

// Service polls the upstream source, classifies notifications, drives the
// voice host, and feeds the delivery endpoints.
type Service struct {
	cfg        config.RelayConfig
	classifier *Classifier
	latest     *LatestVoice
	queue      *Queue
	voice      VoiceGenerator
	mem        ConversationLog
	respond    responder.Generator
	bus        *bus.Client
	pollHTTP   *http.Client
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	ready      bool

	notificationsTotal metric.Int64Counter
	pollErrorsTotal    metric.Int64Counter
	sweepDeletedTotal  metric.Int64Counter
}

func NewService(parent context.Context, cfg config.RelayConfig, voice VoiceGenerator, mem ConversationLog, respond responder.Generator, busClient *bus.Client, logger *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		classifier: NewClassifier(cfg.MamaID, cfg.PapaID),
		latest:     NewLatestVoice(),
		queue:      NewQueue(cfg.MaxPending, logger),
		voice:      voice,
		mem:        mem,
		respond:    respond,
		bus:        busClient,
		pollHTTP:   &http.Client{Timeout: time.Duration(cfg.PollTimeoutSec) * time.Second},
		logger:     logger.With(slog.String("component", "relay-service")),
		ctx:        ctx,
		cancel:     cancel,
	}

	meter := otel.Meter("otoha/relay")
	var err error
	if s.notificationsTotal, err = meter.Int64Counter("relay_notifications_total",
		metric.WithDescription("Notifications processed by the relay")); err != nil {
		cancel()
		return nil, err
	}
	if s.pollErrorsTotal, err = meter.Int64Counter("relay_poll_errors_total",
		metric.WithDescription("Upstream poll cycles that failed")); err != nil {
		cancel()
		return nil, err
	}
	if s.sweepDeletedTotal, err = meter.Int64Counter("relay_sweep_deleted_total",
		metric.WithDescription("Artifacts deleted by scheduled sweeps")); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.wg.Add(2)
	go s.pollLoop()
	go s.sweepLoop()
	s.ready = true
	s.logger.Info("relay started",
		slog.String("upstream", s.cfg.UpstreamURL),
		slog.Int("poll_interval_sec", s.cfg.PollIntervalSec))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.SweepIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// pollOnce runs one upstream poll cycle. Every failure is absorbed here:
// the next tick retries, and nothing a poll does may take the relay down.
func (s *Service) pollOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.PollTimeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.UpstreamURL+"/poll", nil)
	if err != nil {
		s.pollErrorsTotal.Add(s.ctx, 1)
		s.logger.Warn("poll request build failed", slogError(err))
		return
	}
	resp, err := s.pollHTTP.Do(req)
	if err != nil {
		s.pollErrorsTotal.Add(s.ctx, 1)
		s.logger.Warn("upstream poll failed", slogError(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.pollErrorsTotal.Add(s.ctx, 1)
		s.logger.Warn("upstream poll returned error status", slog.Int("status", resp.StatusCode))
		return
	}

	var payload pollPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.pollErrorsTotal.Add(s.ctx, 1)
		s.logger.Warn("upstream poll decode failed", slogError(err))
		return
	}
	if payload.Notification == nil {
		return
	}
	s.processNotification(payload.Notification.UserID, payload.Notification.Message)
}

// processNotification runs the classify/generate/publish pipeline for one
// upstream event. The latest-voice slot goes stale before synthesis starts
// and only flips ready again once the artifact is fully persisted; text
// delivery is queued even when audio generation fails.
func (s *Service) processNotification(userID, message string) {
	sender, spoken := s.classifier.Classify(userID, message)

	s.latest.Begin()

	notification := protocol.Notification{
		Sender:       sender,
		Message:      spoken,
		OriginalText: message,
	}

	generated, err := s.voice.Generate(s.ctx, spoken, s.cfg.DefaultVoice, s.cfg.DefaultRate, s.cfg.DefaultPitch)
	if err != nil {
		s.logger.Warn("voice generation failed, delivering text only", slogError(err))
	} else {
		s.latest.Publish(ReadyVoice{
			VoiceID:  generated.VoiceID,
			VoiceURL: generated.SourceURL,
			SHA256:   generated.SHA256,
			Settings: generated.Settings,
		})
		notification.VoiceID = &generated.VoiceID
		notification.VoiceURL = &generated.SourceURL
		s.publishEvent(protocol.SubjectVoiceReady, protocol.VoiceReadyEvent{
			VoiceID:   generated.VoiceID,
			SHA256:    generated.SHA256,
			Voice:     generated.Settings.Voice,
			Timestamp: time.Now().UTC(),
		})
	}

	s.queue.Push(notification)
	s.notificationsTotal.Add(s.ctx, 1)

	if err := s.mem.AddConversation(s.ctx, "system", fmt.Sprintf("[LINE通知] %s", sender), message); err != nil {
		s.logger.Warn("failed to record notification in memory", slogError(err))
	}

	s.publishEvent(protocol.SubjectNotificationReceived, protocol.NotificationEvent{
		Sender:       sender,
		Message:      spoken,
		OriginalText: message,
		Timestamp:    time.Now().UTC(),
	})

	s.logger.Info("notification processed",
		slog.String("sender", sender),
		slog.Bool("voice_ready", notification.VoiceID != nil),
		slog.Int("pending", s.queue.Len()))
}

func (s *Service) sweepOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutSec)*time.Second)
	defer cancel()

	deleted, err := s.voice.Cleanup(ctx, s.cfg.SweepMaxAgeSec, s.cfg.SweepKeepLatest)
	if err != nil {
		s.logger.Warn("scheduled sweep failed", slogError(err))
		return
	}
	s.sweepDeletedTotal.Add(s.ctx, int64(deleted))
	if deleted > 0 {
		s.logger.Info("scheduled sweep done", slog.Int("deleted", deleted))
	}
}

// publishEvent mirrors an event to the bus when one is configured. Publish
// failures are absorbed; the mirror is advisory.
func (s *Service) publishEvent(subject string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode bus event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish bus event", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
