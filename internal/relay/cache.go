package relay

import (
	"sync"

	"github.com/otohalabs/otoha/internal/protocol"
)

// ReadyVoice identifies a fully persisted artifact.
type ReadyVoice struct {
	VoiceID  string
	VoiceURL string
	SHA256   string
	Settings protocol.VoiceSettings
}

// VoiceSnapshot is a consistent copy of the latest-voice state.
type VoiceSnapshot struct {
	Ready    bool
	VoiceID  string
	VoiceURL string
	SHA256   string
	Settings protocol.VoiceSettings
}

// LatestVoice is the single-slot record of the most recent generation
// attempt. Begin marks the slot not ready before any synthesis starts, so a
// reader arriving mid-generation is told to retry instead of being served
// the previous artifact. All fields flip together under the lock; a reader
// sees either the pre- or post-update state, never a mix.
type LatestVoice struct {
	mu    sync.Mutex
	state VoiceSnapshot
}

func NewLatestVoice() *LatestVoice {
	return &LatestVoice{}
}

// Begin marks the slot stale ahead of a generation attempt.
func (l *LatestVoice) Begin() {
	l.mu.Lock()
	l.state.Ready = false
	l.mu.Unlock()
}

// Publish installs a freshly persisted artifact and marks the slot ready.
func (l *LatestVoice) Publish(v ReadyVoice) {
	l.mu.Lock()
	l.state = VoiceSnapshot{
		Ready:    true,
		VoiceID:  v.VoiceID,
		VoiceURL: v.VoiceURL,
		SHA256:   v.SHA256,
		Settings: v.Settings,
	}
	l.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (l *LatestVoice) Snapshot() VoiceSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
