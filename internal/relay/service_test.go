package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/otohalabs/otoha/internal/config"
	"github.com/otohalabs/otoha/internal/memory"
	"github.com/otohalabs/otoha/internal/protocol"
	"github.com/otohalabs/otoha/internal/responder"
)

type fakeVoice struct {
	generated *GeneratedVoice
	genErr    error
	genCalls  int

	cleanupDeleted int
	cleanupErr     error
	cleanupCalls   int

	audio    []byte
	fetchErr error
}

func (f *fakeVoice) Generate(ctx context.Context, text, voice string, rate, pitch int) (*GeneratedVoice, error) {
	f.genCalls++
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.generated, nil
}

func (f *fakeVoice) Cleanup(ctx context.Context, maxAgeSeconds int, keepLatest bool) (int, error) {
	f.cleanupCalls++
	return f.cleanupDeleted, f.cleanupErr
}

func (f *fakeVoice) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.audio, nil
}

type fakeMemory struct {
	entries []string
	addErr  error
}

func (f *fakeMemory) AddConversation(ctx context.Context, speaker, input, output string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.entries = append(f.entries, speaker+"|"+input+"|"+output)
	return nil
}

func (f *fakeMemory) Context(ctx context.Context, speaker string, limit int) ([]memory.Exchange, error) {
	return nil, nil
}

func testConfig() config.RelayConfig {
	cfg := config.Default().Relay
	cfg.MamaID = "U-mama"
	cfg.PapaID = "U-papa"
	return cfg
}

func newTestService(t *testing.T, voice VoiceGenerator, mem ConversationLog) *Service {
	t.Helper()
	s, err := NewService(context.Background(), testConfig(), voice, mem, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestProcessNotificationSuccess(t *testing.T) {
	voice := &fakeVoice{generated: &GeneratedVoice{
		VoiceID:   "1700_abc",
		SourceURL: "http://voicehost/voice/1700_abc",
		Size:      1234,
		SHA256:    "deadbeef",
		Settings:  protocol.VoiceSettings{Voice: "O-Ren"},
	}}
	mem := &fakeMemory{}
	s := newTestService(t, voice, mem)

	s.processNotification("U-mama", "もう帰ります")

	snap := s.latest.Snapshot()
	if !snap.Ready || snap.VoiceID != "1700_abc" {
		t.Fatalf("expected latest voice published, got %+v", snap)
	}

	n, ok := s.queue.Pop()
	if !ok {
		t.Fatal("expected notification queued")
	}
	if n.Sender != "お母さん" {
		t.Fatalf("unexpected sender %q", n.Sender)
	}
	if n.VoiceID == nil || *n.VoiceID != "1700_abc" {
		t.Fatalf("expected voice id attached, got %+v", n.VoiceID)
	}
	if n.OriginalText != "もう帰ります" {
		t.Fatalf("original text not preserved: %q", n.OriginalText)
	}

	if len(mem.entries) != 1 || mem.entries[0] != "system|[LINE通知] お母さん|もう帰ります" {
		t.Fatalf("unexpected memory entries: %v", mem.entries)
	}
}

func TestProcessNotificationVoiceFailureStillQueues(t *testing.T) {
	voice := &fakeVoice{genErr: errors.New("voice host down")}
	mem := &fakeMemory{}
	s := newTestService(t, voice, mem)

	s.latest.Publish(ReadyVoice{VoiceID: "stale", VoiceURL: "http://voicehost/voice/stale"})

	s.processNotification("U-papa", "今日は遅くなる")

	if snap := s.latest.Snapshot(); snap.Ready {
		t.Fatal("expected latest voice left not ready after failure")
	}

	n, ok := s.queue.Pop()
	if !ok {
		t.Fatal("text delivery must not be blocked by audio failure")
	}
	if n.VoiceID != nil || n.VoiceURL != nil {
		t.Fatalf("expected absent voice fields, got %+v/%+v", n.VoiceID, n.VoiceURL)
	}
	if len(mem.entries) != 1 {
		t.Fatalf("expected memory entry despite voice failure, got %v", mem.entries)
	}
}

func TestPollOnceProcessesNotification(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/poll" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"notification":{"user_id":"U-mama","message":"もう帰ります"}}`))
	}))
	defer upstream.Close()

	voice := &fakeVoice{generated: &GeneratedVoice{VoiceID: "v1", SourceURL: "http://voicehost/voice/v1"}}
	mem := &fakeMemory{}
	cfg := testConfig()
	cfg.UpstreamURL = upstream.URL
	s, err := NewService(context.Background(), cfg, voice, mem, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)

	s.pollOnce()

	if voice.genCalls != 1 {
		t.Fatalf("expected 1 generation, got %d", voice.genCalls)
	}
	if s.queue.Len() != 1 {
		t.Fatalf("expected 1 queued notification, got %d", s.queue.Len())
	}
}

func TestPollOnceAbsorbsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	voice := &fakeVoice{}
	cfg := testConfig()
	cfg.UpstreamURL = upstream.URL
	s, err := NewService(context.Background(), cfg, voice, &fakeMemory{}, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)

	s.pollOnce()

	if voice.genCalls != 0 {
		t.Fatal("no generation expected on upstream failure")
	}
	if s.queue.Len() != 0 {
		t.Fatal("nothing should be queued on upstream failure")
	}
}

func TestPollOnceNoNotification(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	voice := &fakeVoice{}
	cfg := testConfig()
	cfg.UpstreamURL = upstream.URL
	s, err := NewService(context.Background(), cfg, voice, &fakeMemory{}, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)

	s.pollOnce()

	if voice.genCalls != 0 || s.queue.Len() != 0 {
		t.Fatal("empty poll must be a no-op")
	}
}

func TestHealthyReflectsLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = true
	cfg.UpstreamURL = "http://127.0.0.1:1"
	s, err := NewService(context.Background(), cfg, &fakeVoice{}, &fakeMemory{}, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)

	if s.Healthy() {
		t.Fatal("enabled relay must not report healthy before Start")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Healthy() {
		t.Fatal("expected healthy after Start")
	}
}

func TestHealthyWhenDisabled(t *testing.T) {
	s := newTestService(t, &fakeVoice{}, &fakeMemory{})
	if !s.Healthy() {
		t.Fatal("disabled relay must report healthy")
	}
}

func TestSweepOnce(t *testing.T) {
	voice := &fakeVoice{cleanupDeleted: 3}
	s := newTestService(t, voice, &fakeMemory{})

	s.sweepOnce()

	if voice.cleanupCalls != 1 {
		t.Fatalf("expected 1 cleanup call, got %d", voice.cleanupCalls)
	}

	// Failures are absorbed.
	voice.cleanupErr = errors.New("voice host down")
	s.sweepOnce()
	if voice.cleanupCalls != 2 {
		t.Fatalf("expected cleanup retried, got %d calls", voice.cleanupCalls)
	}
}
