package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LOQA_MIC_STT_MODE.
const EnvPrefix = "LOQA_MIC_"

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat    string `yaml:"log_format" env:"LOG_FORMAT"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	TraceFile    string `yaml:"trace_file" env:"TRACE_FILE"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Bind    string `yaml:"bind" env:"BIND"`
	Port    int    `yaml:"port" env:"PORT"`
}

type AudioConfig struct {
	Backend         string `yaml:"backend" env:"BACKEND"` // portaudio, file
	Device          string `yaml:"device" env:"DEVICE"`
	FramesPerBuffer int    `yaml:"frames_per_buffer" env:"FRAMES_PER_BUFFER"`
	Latency         string `yaml:"latency" env:"LATENCY"`
	File            string `yaml:"file" env:"FILE"`
	FileRealtime    bool   `yaml:"file_realtime" env:"FILE_REALTIME"`
}

type STTConfig struct {
	Mode              string `yaml:"mode" env:"MODE"` // vosk, exec, mock
	ModelPath         string `yaml:"model_path" env:"MODEL_PATH"`
	Command           string `yaml:"command" env:"COMMAND"`
	MaxAlternatives   int    `yaml:"max_alternatives" env:"MAX_ALTERNATIVES"`
	Words             bool   `yaml:"words" env:"WORDS"`
	EngineLogLevel    int    `yaml:"engine_log_level" env:"ENGINE_LOG_LEVEL"`
	MockPhrase        string `yaml:"mock_phrase" env:"MOCK_PHRASE"`
	BacklogWarnChunks int    `yaml:"backlog_warn_chunks" env:"BACKLOG_WARN_CHUNKS"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" env:"ENABLED"`
	Embedded       bool     `yaml:"embedded" env:"EMBEDDED"`
	Port           int      `yaml:"port" env:"PORT"`
	Servers        []string `yaml:"servers" env:"SERVERS"`
	Username       string   `yaml:"username" env:"USERNAME"`
	Password       string   `yaml:"password" env:"PASSWORD"`
	Token          string   `yaml:"token" env:"TOKEN"`
	TLSInsecure    bool     `yaml:"tls_insecure" env:"TLS_INSECURE"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" env:"PATH"`
	RetentionMode string `yaml:"retention_mode" env:"RETENTION_MODE"`
	RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
	MaxSessions   int    `yaml:"max_sessions" env:"MAX_SESSIONS"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" env:"VACUUM_ON_START"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" env:"RUNTIME_NAME"`
	Environment string           `yaml:"environment" env:"ENVIRONMENT"`
	HTTP        HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Audio       AudioConfig      `yaml:"audio" envPrefix:"AUDIO_"`
	STT         STTConfig        `yaml:"stt" envPrefix:"STT_"`
	Bus         BusConfig        `yaml:"bus" envPrefix:"BUS_"`
	EventStore  EventStoreConfig `yaml:"event_store" envPrefix:"EVENT_STORE_"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-mic",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "text",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			Backend:      "portaudio",
			Latency:      "high",
			FileRealtime: true,
		},
		STT: STTConfig{
			Mode:              "vosk",
			ModelPath:         "model/vosk-model-en-us-0.42-gigaspeech",
			EngineLogLevel:    -1,
			MockPhrase:        "hello world",
			BacklogWarnChunks: 500,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-mic.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// LOQA_MIC_* environment overrides and validates the result.
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

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		return errors.New("telemetry.log_format must be one of text|json")
	}
	switch cfg.Audio.Backend {
	case "portaudio":
	case "file":
		if cfg.Audio.File == "" {
			return errors.New("audio.file must be set when backend=file")
		}
	default:
		return errors.New("audio.backend must be one of portaudio|file")
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		return errors.New("audio.frames_per_buffer must be >= 0")
	}
	switch cfg.Audio.Latency {
	case "low", "high":
	default:
		return errors.New("audio.latency must be one of low|high")
	}
	switch cfg.STT.Mode {
	case "vosk":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=vosk")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of vosk|exec|mock")
	}
	if cfg.STT.MaxAlternatives < 0 {
		return errors.New("stt.max_alternatives must be >= 0")
	}
	if cfg.STT.BacklogWarnChunks < 0 {
		return errors.New("stt.backlog_warn_chunks must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
