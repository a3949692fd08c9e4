package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otohalabs/otoha/internal/artifact"
	"github.com/otohalabs/otoha/internal/bus"
	"github.com/otohalabs/otoha/internal/config"
	"github.com/otohalabs/otoha/internal/memory"
	"github.com/otohalabs/otoha/internal/relay"
	"github.com/otohalabs/otoha/internal/responder"
	"github.com/otohalabs/otoha/internal/synth"
)

// Runtime owns the HTTP surface and the lifecycle of every enabled service.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tel           *telemetry
	ready         atomic.Bool
	wg            sync.WaitGroup

	// checks feed /readyz; each enabled service contributes its Healthy.
	checks []func() bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tel = tel

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealthz)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /health", r.handleHealth)

	mem, err := memory.Open(ctx, r.cfg.Memory, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer mem.Close()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect bus: %w", err)
		}
		defer busClient.Close()
		r.checks = append(r.checks, busClient.Healthy)
	}

	if r.cfg.Synth.Enabled {
		store, err := artifact.Open(r.cfg.Synth.StorageDir, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		backend, err := buildBackend(r.cfg.Synth, r.logger)
		if err != nil {
			return fmt.Errorf("failed to build synth backend: %w", err)
		}
		synthService, err := synth.NewService(r.cfg.Synth, backend, store, r.logger)
		if err != nil {
			return fmt.Errorf("failed to build synth service: %w", err)
		}
		synthService.Register(mux)
		r.logger.Info("generation service enabled",
			slog.String("mode", r.cfg.Synth.Mode),
			slog.String("storage_dir", r.cfg.Synth.StorageDir))
	}

	if r.cfg.Relay.Enabled {
		voiceClient := relay.NewVoiceClient(
			r.cfg.Relay.VoiceServerURL,
			time.Duration(r.cfg.Relay.RequestTimeoutSec)*time.Second,
			time.Duration(r.cfg.Relay.FetchTimeoutSec)*time.Second,
		)
		relayService, err := relay.NewService(ctx, r.cfg.Relay, voiceClient, mem, buildResponder(r.cfg.Responder), busClient, r.logger)
		if err != nil {
			return fmt.Errorf("failed to build relay service: %w", err)
		}
		if err := relayService.Start(); err != nil {
			return fmt.Errorf("failed to start relay service: %w", err)
		}
		defer relayService.Close()
		relayService.Register(mux)
		r.checks = append(r.checks, relayService.Healthy)
		r.logger.Info("relay service enabled",
			slog.String("upstream", r.cfg.Relay.UpstreamURL),
			slog.String("voice_server", r.cfg.Relay.VoiceServerURL))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if tel.handler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.handler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tel != nil {
		if err := r.tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildBackend(cfg config.SynthConfig, logger *slog.Logger) (synth.Backend, error) {
	switch cfg.Mode {
	case "mock":
		return synth.NewMockBackend(cfg.SampleRate), nil
	default:
		return synth.NewSayBackend(cfg.SayCommand, cfg.ConvertCommand, cfg.TmpDir, cfg.SampleRate, logger)
	}
}

func buildResponder(cfg config.ResponderConfig) responder.Generator {
	switch cfg.Mode {
	case "ollama":
		return responder.NewOllamaGenerator(cfg)
	default:
		return responder.NewMockGenerator()
	}
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ok := r.ready.Load()
	for _, healthy := range r.checks {
		ok = ok && healthy()
	}
	if ok {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleHealth echoes the effective configuration the way the original
// deployment scripts expect.
func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"service":     r.cfg.RuntimeName,
		"environment": r.cfg.Environment,
		"synth":       r.cfg.Synth.Enabled,
		"relay":       r.cfg.Relay.Enabled,
	}
	if r.cfg.Synth.Enabled {
		payload["storage_dir"] = r.cfg.Synth.StorageDir
		payload["tmp_dir"] = r.cfg.Synth.TmpDir
	}
	if r.cfg.Relay.Enabled {
		payload["voice_server"] = r.cfg.Relay.VoiceServerURL
		payload["voice_default"] = r.cfg.Relay.DefaultVoice
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
