package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/otohalabs/otoha/internal/protocol"
)

// ErrUpstreamStatus reports a non-200 answer from the voice host, as
// opposed to a transport failure.
var ErrUpstreamStatus = errors.New("voice host returned error status")

// GeneratedVoice is the relay-side view of a successful generation.
type GeneratedVoice struct {
	VoiceID   string
	SourceURL string
	Size      int
	SHA256    string
	Settings  protocol.VoiceSettings
}

// VoiceClient drives the generation service on the voice host over HTTP.
type VoiceClient struct {
	baseURL      string
	http         *http.Client
	fetchTimeout time.Duration
}

func NewVoiceClient(baseURL string, requestTimeout, fetchTimeout time.Duration) *VoiceClient {
	return &VoiceClient{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: requestTimeout},
		fetchTimeout: fetchTimeout,
	}
}

// Generate asks the voice host to synthesize and persist one artifact.
func (c *VoiceClient) Generate(ctx context.Context, text, voice string, rate, pitch int) (*GeneratedVoice, error) {
	body, err := json.Marshal(protocol.GenerateRequest{Text: text, Voice: voice, Rate: &rate, Pitch: &pitch})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call voice host: %w", err)
	}
	defer resp.Body.Close()

	var out protocol.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return nil, fmt.Errorf("%w: generate status %d", ErrUpstreamStatus, resp.StatusCode)
	}

	downloadPath := out.DownloadPath
	if downloadPath == "" {
		downloadPath = "/voice/" + out.VoiceID
	}

	return &GeneratedVoice{
		VoiceID:   out.VoiceID,
		SourceURL: c.baseURL + downloadPath,
		Size:      out.Size,
		SHA256:    out.SHA256,
		Settings:  out.Settings,
	}, nil
}

// Cleanup triggers a retention sweep on the voice host.
func (c *VoiceClient) Cleanup(ctx context.Context, maxAgeSeconds int, keepLatest bool) (int, error) {
	body, err := json.Marshal(protocol.CleanupRequest{MaxAgeSeconds: &maxAgeSeconds, KeepLatest: &keepLatest})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cleanup", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call voice host: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: cleanup status %d", ErrUpstreamStatus, resp.StatusCode)
	}

	var out protocol.CleanupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode cleanup response: %w", err)
	}
	return out.Deleted, nil
}

// FetchAudio re-fetches artifact bytes from the voice host for streaming to
// the robot client.
func (c *VoiceClient) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: audio status %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
