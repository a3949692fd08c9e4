package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/otohalabs/otoha/internal/protocol"
	"github.com/otohalabs/otoha/internal/responder"
)

func newTestHandler(t *testing.T, voice VoiceGenerator, mem ConversationLog) (*Service, *http.ServeMux) {
	t.Helper()
	s, err := NewService(context.Background(), testConfig(), voice, mem, responder.NewMockGenerator(), nil, testLogger())
	if err != nil {
		t.Fatalf("new relay service: %v", err)
	}
	t.Cleanup(s.Close)
	mux := http.NewServeMux()
	s.Register(mux)
	return s, mux
}

func TestPendingEndpointPopsFIFO(t *testing.T) {
	s, mux := newTestHandler(t, &fakeVoice{}, &fakeMemory{})
	s.queue.Push(protocol.Notification{Sender: "お母さん", Message: "first"})
	s.queue.Push(protocol.Notification{Sender: "お父さん", Message: "second"})

	for _, want := range []string{"first", "second"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify/pending", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
		var resp protocol.PendingResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Notification == nil || resp.Notification.Message != want {
			t.Fatalf("expected %q, got %+v", want, resp.Notification)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notify/pending", nil))
	var resp protocol.PendingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Notification != nil {
		t.Fatalf("expected success with null notification, got %+v", resp)
	}
}

func TestLatestVoiceNotReady(t *testing.T) {
	s, mux := newTestHandler(t, &fakeVoice{}, &fakeMemory{})

	// Even a previously published voice is unreachable once Begin runs.
	s.latest.Publish(ReadyVoice{VoiceID: "v0", VoiceURL: "http://voicehost/voice/v0"})
	s.latest.Begin()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/latest", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not_ready") {
		t.Fatalf("expected not_ready status, got %s", rec.Body.String())
	}
}

func TestLatestVoiceServed(t *testing.T) {
	voice := &fakeVoice{audio: []byte("RIFFwav-bytes")}
	s, mux := newTestHandler(t, voice, &fakeMemory{})
	s.latest.Publish(ReadyVoice{
		VoiceID:  "v1",
		VoiceURL: "http://voicehost/voice/v1",
		Settings: protocol.VoiceSettings{Voice: "O-Ren"},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "RIFFwav-bytes" {
		t.Fatal("audio bytes not streamed")
	}
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Fatalf("expected cache-disabling headers, got %q", got)
	}
	if rec.Header().Get("X-Voice-Id") != "v1" || rec.Header().Get("X-Voice-Name") != "O-Ren" {
		t.Fatalf("identifying headers missing: %v", rec.Header())
	}
}

func TestLatestVoiceUpstreamFailures(t *testing.T) {
	cases := []struct {
		name       string
		fetchErr   error
		wantStatus string
	}{
		{"transport failure", errors.New("dial tcp: refused"), "upstream_unreachable"},
		{"error status", ErrUpstreamStatus, "upstream_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			voice := &fakeVoice{fetchErr: tc.fetchErr}
			s, mux := newTestHandler(t, voice, &fakeMemory{})
			s.latest.Publish(ReadyVoice{VoiceID: "v1", VoiceURL: "http://voicehost/voice/v1"})

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/latest", nil))
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.wantStatus) {
				t.Fatalf("expected %s, got %s", tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestChatEndpoint(t *testing.T) {
	mem := &fakeMemory{}
	_, mux := newTestHandler(t, &fakeVoice{}, mem)

	body := strings.NewReader(`{"text":"おはよう","speaker":"yuki"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp protocol.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Response == "" {
		t.Fatalf("unexpected chat response: %+v", resp)
	}
	if len(mem.entries) != 1 {
		t.Fatalf("expected chat recorded in memory, got %v", mem.entries)
	}
}

func TestChatRejectsEmptyText(t *testing.T) {
	_, mux := newTestHandler(t, &fakeVoice{}, &fakeMemory{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"text":"  "}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
