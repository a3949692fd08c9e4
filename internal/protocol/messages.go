package protocol

import "time"

// Notification is one classified family message queued for the robot client.
type Notification struct {
	Sender       string  `json:"sender"`
	Message      string  `json:"message"`
	OriginalText string  `json:"original_text"`
	VoiceID      *string `json:"voice_id"`
	VoiceURL     *string `json:"voice_url"`
}

// VoiceSettings echoes the effective synthesis parameters of an artifact.
type VoiceSettings struct {
	Text           string `json:"text"`
	Voice          string `json:"voice"`
	RequestedVoice string `json:"requested_voice"`
	Rate           int    `json:"rate"`
	Pitch          int    `json:"pitch"`
	Engine         string `json:"engine"`
}

// GenerateRequest is the body of POST /generate. Rate and Pitch are
// pointers so an explicit 0 is distinguishable from an absent field:
// absent means the server default, 0 clamps to the minimum.
type GenerateRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Rate  *int   `json:"rate,omitempty"`
	Pitch *int   `json:"pitch,omitempty"`
}

// GenerateResponse describes a persisted artifact.
type GenerateResponse struct {
	Success      bool          `json:"success"`
	VoiceID      string        `json:"voice_id"`
	Size         int           `json:"size"`
	SHA256       string        `json:"sha256"`
	DownloadPath string        `json:"download_path"`
	Settings     VoiceSettings `json:"settings"`
}

// CleanupRequest is the body of POST /cleanup.
type CleanupRequest struct {
	MaxAgeSeconds *int  `json:"max_age_seconds,omitempty"`
	KeepLatest    *bool `json:"keep_latest,omitempty"`
}

// CleanupResponse reports how many artifacts a sweep removed.
type CleanupResponse struct {
	Success bool `json:"success"`
	Deleted int  `json:"deleted"`
}

// VoiceInfo is one entry of GET /voices.
type VoiceInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// VoicesResponse wraps GET /voices.
type VoicesResponse struct {
	Success bool        `json:"success"`
	Voices  []VoiceInfo `json:"voices"`
}

// PendingResponse wraps GET /notify/pending.
type PendingResponse struct {
	Success      bool          `json:"success"`
	Notification *Notification `json:"notification"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

// ChatResponse wraps the responder output.
type ChatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

// ErrorResponse is the uniform failure body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// NotificationEvent mirrors a processed notification onto the bus.
type NotificationEvent struct {
	Sender       string    `json:"sender"`
	Message      string    `json:"message"`
	OriginalText string    `json:"original_text"`
	Timestamp    time.Time `json:"timestamp"`
}

// VoiceReadyEvent announces a freshly published artifact on the bus.
type VoiceReadyEvent struct {
	VoiceID   string    `json:"voice_id"`
	SHA256    string    `json:"sha256"`
	Voice     string    `json:"voice"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectNotificationReceived = "notify.received"
	SubjectVoiceReady           = "voice.ready"
)
