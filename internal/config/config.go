package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type SynthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, say
	SayCommand     string `yaml:"say_command"`
	ConvertCommand string `yaml:"convert_command"`
	StorageDir     string `yaml:"storage_dir"`
	TmpDir         string `yaml:"tmp_dir"`
	DefaultVoice   string `yaml:"default_voice"`
	SampleRate     int    `yaml:"sample_rate"`
}

type RelayConfig struct {
	Enabled           bool   `yaml:"enabled"`
	UpstreamURL       string `yaml:"upstream_url"`
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
	PollTimeoutSec    int    `yaml:"poll_timeout_sec"`
	VoiceServerURL    string `yaml:"voice_server_url"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	FetchTimeoutSec   int    `yaml:"fetch_timeout_sec"`
	DefaultVoice      string `yaml:"default_voice"`
	DefaultRate       int    `yaml:"default_rate"`
	DefaultPitch      int    `yaml:"default_pitch"`
	MamaID            string `yaml:"mama_id"`
	PapaID            string `yaml:"papa_id"`
	MaxPending        int    `yaml:"max_pending"`
	SweepIntervalSec  int    `yaml:"sweep_interval_sec"`
	SweepMaxAgeSec    int    `yaml:"sweep_max_age_sec"`
	SweepKeepLatest   bool   `yaml:"sweep_keep_latest"`
}

type MemoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	ContextLimit  int    `yaml:"context_limit"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ResponderConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Synth       SynthConfig     `yaml:"synth"`
	Relay       RelayConfig     `yaml:"relay"`
	Memory      MemoryConfig    `yaml:"memory"`
	Responder   ResponderConfig `yaml:"responder"`
}

func Default() Config {
	return Config{
		RuntimeName: "otoha-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Synth: SynthConfig{
			Enabled:      false,
			Mode:         "say",
			StorageDir:   "/tmp/voice_gen_store",
			TmpDir:       "/tmp/voice_gen",
			DefaultVoice: "O-Ren",
			SampleRate:   44100,
		},
		Relay: RelayConfig{
			Enabled:           false,
			UpstreamURL:       "",
			PollIntervalSec:   10,
			PollTimeoutSec:    60,
			VoiceServerURL:    "http://192.168.1.48:5001",
			RequestTimeoutSec: 30,
			FetchTimeoutSec:   30,
			DefaultVoice:      "O-Ren",
			DefaultRate:       160,
			DefaultPitch:      45,
			MaxPending:        256,
			SweepIntervalSec:  3600,
			SweepMaxAgeSec:    3600,
			SweepKeepLatest:   true,
		},
		Memory: MemoryConfig{
			Path:          "./data/otoha-memory.db",
			RetentionDays: 30,
			ContextLimit:  10,
		},
		Responder: ResponderConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "OTOHA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "OTOHA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "OTOHA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "OTOHA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "OTOHA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "OTOHA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "OTOHA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "OTOHA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "OTOHA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "OTOHA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "OTOHA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "OTOHA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "OTOHA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "OTOHA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "OTOHA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Synth.Enabled, "OTOHA_SYNTH_ENABLED")
	overrideString(&cfg.Synth.Mode, "OTOHA_SYNTH_MODE")
	overrideString(&cfg.Synth.SayCommand, "OTOHA_SYNTH_SAY_COMMAND")
	overrideString(&cfg.Synth.ConvertCommand, "OTOHA_SYNTH_CONVERT_COMMAND")
	overrideString(&cfg.Synth.StorageDir, "OTOHA_SYNTH_STORAGE_DIR")
	overrideString(&cfg.Synth.TmpDir, "OTOHA_SYNTH_TMP_DIR")
	overrideString(&cfg.Synth.DefaultVoice, "OTOHA_SYNTH_DEFAULT_VOICE")
	overrideInt(&cfg.Synth.SampleRate, "OTOHA_SYNTH_SAMPLE_RATE")
	overrideBool(&cfg.Relay.Enabled, "OTOHA_RELAY_ENABLED")
	overrideString(&cfg.Relay.UpstreamURL, "OTOHA_RELAY_UPSTREAM_URL")
	overrideInt(&cfg.Relay.PollIntervalSec, "OTOHA_RELAY_POLL_INTERVAL_SEC")
	overrideInt(&cfg.Relay.PollTimeoutSec, "OTOHA_RELAY_POLL_TIMEOUT_SEC")
	overrideString(&cfg.Relay.VoiceServerURL, "OTOHA_RELAY_VOICE_SERVER_URL")
	overrideInt(&cfg.Relay.RequestTimeoutSec, "OTOHA_RELAY_REQUEST_TIMEOUT_SEC")
	overrideInt(&cfg.Relay.FetchTimeoutSec, "OTOHA_RELAY_FETCH_TIMEOUT_SEC")
	overrideString(&cfg.Relay.DefaultVoice, "OTOHA_RELAY_DEFAULT_VOICE")
	overrideInt(&cfg.Relay.DefaultRate, "OTOHA_RELAY_DEFAULT_RATE")
	overrideInt(&cfg.Relay.DefaultPitch, "OTOHA_RELAY_DEFAULT_PITCH")
	overrideString(&cfg.Relay.MamaID, "OTOHA_RELAY_MAMA_ID")
	overrideString(&cfg.Relay.PapaID, "OTOHA_RELAY_PAPA_ID")
	overrideInt(&cfg.Relay.MaxPending, "OTOHA_RELAY_MAX_PENDING")
	overrideInt(&cfg.Relay.SweepIntervalSec, "OTOHA_RELAY_SWEEP_INTERVAL_SEC")
	overrideInt(&cfg.Relay.SweepMaxAgeSec, "OTOHA_RELAY_SWEEP_MAX_AGE_SEC")
	overrideBool(&cfg.Relay.SweepKeepLatest, "OTOHA_RELAY_SWEEP_KEEP_LATEST")
	overrideString(&cfg.Memory.Path, "OTOHA_MEMORY_PATH")
	overrideInt(&cfg.Memory.RetentionDays, "OTOHA_MEMORY_RETENTION_DAYS")
	overrideInt(&cfg.Memory.ContextLimit, "OTOHA_MEMORY_CONTEXT_LIMIT")
	overrideBool(&cfg.Memory.VacuumOnStart, "OTOHA_MEMORY_VACUUM_ON_START")
	overrideString(&cfg.Responder.Mode, "OTOHA_RESPONDER_MODE")
	overrideString(&cfg.Responder.Endpoint, "OTOHA_RESPONDER_ENDPOINT")
	overrideString(&cfg.Responder.Model, "OTOHA_RESPONDER_MODEL")
	overrideInt(&cfg.Responder.MaxTokens, "OTOHA_RESPONDER_MAX_TOKENS")
	overrideFloat(&cfg.Responder.Temperature, "OTOHA_RESPONDER_TEMPERATURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when the bus is enabled")
	}
	if cfg.Synth.Enabled {
		switch cfg.Synth.Mode {
		case "mock", "say":
		default:
			return errors.New("synth.mode must be one of mock|say")
		}
		if cfg.Synth.StorageDir == "" {
			return errors.New("synth.storage_dir must not be empty")
		}
		if cfg.Synth.TmpDir == "" {
			return errors.New("synth.tmp_dir must not be empty")
		}
		if cfg.Synth.SampleRate <= 0 {
			return errors.New("synth.sample_rate must be positive")
		}
	}
	if cfg.Relay.Enabled {
		if cfg.Relay.UpstreamURL == "" {
			return errors.New("relay.upstream_url must not be empty when the relay is enabled")
		}
		if cfg.Relay.VoiceServerURL == "" {
			return errors.New("relay.voice_server_url must not be empty when the relay is enabled")
		}
		if cfg.Relay.PollIntervalSec <= 0 {
			return errors.New("relay.poll_interval_sec must be positive")
		}
		if cfg.Relay.SweepIntervalSec <= 0 {
			return errors.New("relay.sweep_interval_sec must be positive")
		}
		if cfg.Relay.MaxPending <= 0 {
			return errors.New("relay.max_pending must be >= 1")
		}
	}
	if cfg.Memory.Path == "" {
		return errors.New("memory.path must not be empty")
	}
	if cfg.Memory.RetentionDays < 0 {
		return errors.New("memory.retention_days must be >= 0")
	}
	switch cfg.Responder.Mode {
	case "mock", "ollama":
	default:
		return errors.New("responder.mode must be one of mock|ollama")
	}
	if cfg.Responder.Mode == "ollama" && cfg.Responder.Endpoint == "" {
		return errors.New("responder.endpoint must be set when mode=ollama")
	}
	return nil
}
