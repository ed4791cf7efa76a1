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

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	ASR         ASRConfig        `yaml:"asr"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	Typist      TypistConfig     `yaml:"typist"`
	Failsafe    FailsafeConfig   `yaml:"failsafe"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig describes the capture side of the pipeline. BlockSize is the
// fixed frame count handed to the resampler; the device delivers whatever
// chunk size its driver prefers.
type AudioConfig struct {
	Device     string `yaml:"device"`
	BlockSize  int    `yaml:"block_size"`
	QueueDepth int    `yaml:"queue_depth"`
	DumpDir    string `yaml:"dump_dir"`
}

type ASRConfig struct {
	Mode             string `yaml:"mode"` // whisper, exec, mock
	ModelPath        string `yaml:"model_path"`
	Command          string `yaml:"command"`
	Language         string `yaml:"language"`
	ContextSeconds   int    `yaml:"context_seconds"`
	MaxContextSecs   int    `yaml:"max_context_seconds"`
	CadenceMS        int    `yaml:"cadence_ms"`
	BufferBlocks     int    `yaml:"buffer_blocks"`
	CommitSilenceMS  int    `yaml:"commit_silence_ms"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

type TranscriptConfig struct {
	Policy string `yaml:"policy"` // append_only, corrective
}

type TypistConfig struct {
	RateCPM          int  `yaml:"rate_cpm"`
	SafeMode         bool `yaml:"safe_mode"`
	SafeRateCPM      int  `yaml:"safe_rate_cpm"`
	SmartPause       bool `yaml:"smart_pause"`
	CountdownSeconds int  `yaml:"countdown_seconds"`
}

type FailsafeConfig struct {
	Enabled      bool `yaml:"enabled"`
	DoubleTapMS  int  `yaml:"double_tap_ms"`
	CornerMargin int  `yaml:"corner_margin"`
	ScreenWidth  int  `yaml:"screen_width"`
	ScreenHeight int  `yaml:"screen_height"`
	RateStepCPM  int  `yaml:"rate_step_cpm"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxkey-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Device:     "",
			BlockSize:  1024,
			QueueDepth: 16,
		},
		ASR: ASRConfig{
			Mode:             "mock",
			Language:         "en",
			ContextSeconds:   12,
			MaxContextSecs:   30,
			CadenceMS:        700,
			BufferBlocks:     64,
			CommitSilenceMS:  1200,
			FailureThreshold: 5,
		},
		Transcript: TranscriptConfig{
			Policy: "append_only",
		},
		Typist: TypistConfig{
			RateCPM:          1200,
			SafeMode:         false,
			SafeRateCPM:      600,
			SmartPause:       true,
			CountdownSeconds: 0,
		},
		Failsafe: FailsafeConfig{
			Enabled:      true,
			DoubleTapMS:  500,
			CornerMargin: 5,
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			RateStepCPM:  100,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxkey-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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
	overrideString(&cfg.RuntimeName, "VOXKEY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXKEY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXKEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXKEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXKEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXKEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXKEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXKEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXKEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXKEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXKEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXKEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXKEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXKEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXKEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXKEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "VOXKEY_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.BlockSize, "VOXKEY_AUDIO_BLOCK_SIZE")
	overrideInt(&cfg.Audio.QueueDepth, "VOXKEY_AUDIO_QUEUE_DEPTH")
	overrideString(&cfg.Audio.DumpDir, "VOXKEY_AUDIO_DUMP_DIR")
	overrideString(&cfg.ASR.Mode, "VOXKEY_ASR_MODE")
	overrideString(&cfg.ASR.ModelPath, "VOXKEY_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.Command, "VOXKEY_ASR_COMMAND")
	overrideString(&cfg.ASR.Language, "VOXKEY_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.ContextSeconds, "VOXKEY_ASR_CONTEXT_SECONDS")
	overrideInt(&cfg.ASR.MaxContextSecs, "VOXKEY_ASR_MAX_CONTEXT_SECONDS")
	overrideInt(&cfg.ASR.CadenceMS, "VOXKEY_ASR_CADENCE_MS")
	overrideInt(&cfg.ASR.BufferBlocks, "VOXKEY_ASR_BUFFER_BLOCKS")
	overrideInt(&cfg.ASR.CommitSilenceMS, "VOXKEY_ASR_COMMIT_SILENCE_MS")
	overrideInt(&cfg.ASR.FailureThreshold, "VOXKEY_ASR_FAILURE_THRESHOLD")
	overrideString(&cfg.Transcript.Policy, "VOXKEY_TRANSCRIPT_POLICY")
	overrideInt(&cfg.Typist.RateCPM, "VOXKEY_TYPIST_RATE_CPM")
	overrideBool(&cfg.Typist.SafeMode, "VOXKEY_TYPIST_SAFE_MODE")
	overrideInt(&cfg.Typist.SafeRateCPM, "VOXKEY_TYPIST_SAFE_RATE_CPM")
	overrideBool(&cfg.Typist.SmartPause, "VOXKEY_TYPIST_SMART_PAUSE")
	overrideInt(&cfg.Typist.CountdownSeconds, "VOXKEY_TYPIST_COUNTDOWN_SECONDS")
	overrideBool(&cfg.Failsafe.Enabled, "VOXKEY_FAILSAFE_ENABLED")
	overrideInt(&cfg.Failsafe.DoubleTapMS, "VOXKEY_FAILSAFE_DOUBLE_TAP_MS")
	overrideInt(&cfg.Failsafe.CornerMargin, "VOXKEY_FAILSAFE_CORNER_MARGIN")
	overrideInt(&cfg.Failsafe.ScreenWidth, "VOXKEY_FAILSAFE_SCREEN_WIDTH")
	overrideInt(&cfg.Failsafe.ScreenHeight, "VOXKEY_FAILSAFE_SCREEN_HEIGHT")
	overrideInt(&cfg.Failsafe.RateStepCPM, "VOXKEY_FAILSAFE_RATE_STEP_CPM")
	overrideString(&cfg.EventStore.Path, "VOXKEY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOXKEY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOXKEY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOXKEY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOXKEY_EVENT_STORE_VACUUM_ON_START")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be positive")
	}
	if cfg.Audio.QueueDepth <= 0 {
		return errors.New("audio.queue_depth must be positive")
	}
	switch cfg.ASR.Mode {
	case "whisper", "exec", "mock":
	default:
		return errors.New("asr.mode must be one of whisper|exec|mock")
	}
	if cfg.ASR.Mode == "whisper" && cfg.ASR.ModelPath == "" {
		return errors.New("asr.model_path must be set when mode=whisper")
	}
	if cfg.ASR.Mode == "exec" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when mode=exec")
	}
	if cfg.ASR.ContextSeconds <= 0 {
		return errors.New("asr.context_seconds must be positive")
	}
	if cfg.ASR.MaxContextSecs < cfg.ASR.ContextSeconds {
		return errors.New("asr.max_context_seconds must be >= asr.context_seconds")
	}
	if cfg.ASR.CadenceMS <= 0 {
		return errors.New("asr.cadence_ms must be positive")
	}
	if cfg.ASR.BufferBlocks <= 0 {
		return errors.New("asr.buffer_blocks must be positive")
	}
	if cfg.ASR.FailureThreshold <= 0 {
		return errors.New("asr.failure_threshold must be >= 1")
	}
	switch cfg.Transcript.Policy {
	case "append_only", "corrective":
	default:
		return errors.New("transcript.policy must be one of append_only|corrective")
	}
	if cfg.Typist.RateCPM <= 0 {
		return errors.New("typist.rate_cpm must be positive")
	}
	if cfg.Typist.SafeRateCPM <= 0 {
		return errors.New("typist.safe_rate_cpm must be positive")
	}
	if cfg.Typist.CountdownSeconds < 0 {
		return errors.New("typist.countdown_seconds must be >= 0")
	}
	if cfg.Failsafe.Enabled {
		if cfg.Failsafe.DoubleTapMS <= 0 {
			return errors.New("failsafe.double_tap_ms must be positive")
		}
		if cfg.Failsafe.CornerMargin < 0 {
			return errors.New("failsafe.corner_margin must be >= 0")
		}
		if cfg.Failsafe.RateStepCPM < 0 {
			return errors.New("failsafe.rate_step_cpm must be >= 0")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
