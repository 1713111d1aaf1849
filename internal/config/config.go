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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type StorageConfig struct {
	AudioDir   string `yaml:"audio_dir"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type SynthConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	ModelsDir       string `yaml:"models_dir"`
	DownloadTimeout int    `yaml:"download_timeout_s"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FFmpegMP3       bool   `yaml:"ffmpeg_mp3"`
	Timeout         int    `yaml:"timeout_s"`
}

type JobsConfig struct {
	AsyncThresholdChars int `yaml:"async_threshold_chars"`
	CleanupIntervalMin  int `yaml:"cleanup_interval_min"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	Storage     StorageConfig   `yaml:"storage"`
	Synth       SynthConfig     `yaml:"synth"`
	Jobs        JobsConfig      `yaml:"jobs"`
}

func Default() Config {
	return Config{
		RuntimeName: "mdtts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./storage/history.db",
			RetentionDays: 30,
		},
		Storage: StorageConfig{
			AudioDir:   "./storage/audio",
			MaxAgeDays: 7,
		},
		Synth: SynthConfig{
			Mode:            "exec",
			Command:         "piper --model {model} --output-raw",
			ModelsDir:       "./storage/models",
			DownloadTimeout: 300,
			SampleRate:      22050,
			Channels:        1,
			FFmpegMP3:       true,
			Timeout:         120,
		},
		Jobs: JobsConfig{
			AsyncThresholdChars: 2000,
			CleanupIntervalMin:  60,
		},
	}
}

// Load reads configuration from an optional YAML file, applies MDTTS_*
// environment overrides and validates the result.
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
	overrideString(&cfg.RuntimeName, "MDTTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MDTTS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MDTTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MDTTS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MDTTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MDTTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MDTTS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "MDTTS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MDTTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MDTTS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MDTTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MDTTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MDTTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MDTTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MDTTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MDTTS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "MDTTS_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "MDTTS_HISTORY_RETENTION_DAYS")
	overrideString(&cfg.Storage.AudioDir, "MDTTS_STORAGE_AUDIO_DIR")
	overrideInt(&cfg.Storage.MaxAgeDays, "MDTTS_STORAGE_MAX_AGE_DAYS")
	overrideString(&cfg.Synth.Mode, "MDTTS_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "MDTTS_SYNTH_COMMAND")
	overrideString(&cfg.Synth.ModelsDir, "MDTTS_SYNTH_MODELS_DIR")
	overrideInt(&cfg.Synth.DownloadTimeout, "MDTTS_SYNTH_DOWNLOAD_TIMEOUT_S")
	overrideInt(&cfg.Synth.SampleRate, "MDTTS_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "MDTTS_SYNTH_CHANNELS")
	overrideBool(&cfg.Synth.FFmpegMP3, "MDTTS_SYNTH_FFMPEG_MP3")
	overrideInt(&cfg.Synth.Timeout, "MDTTS_SYNTH_TIMEOUT_S")
	overrideInt(&cfg.Jobs.AsyncThresholdChars, "MDTTS_JOBS_ASYNC_THRESHOLD_CHARS")
	overrideInt(&cfg.Jobs.CleanupIntervalMin, "MDTTS_JOBS_CLEANUP_INTERVAL_MIN")
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Storage.AudioDir == "" {
		return errors.New("storage.audio_dir must not be empty")
	}
	if cfg.Storage.MaxAgeDays < 0 {
		return errors.New("storage.max_age_days must be >= 0")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("synth.mode must be one of mock|exec")
	}
	if cfg.Synth.Mode == "exec" {
		if cfg.Synth.Command == "" {
			return errors.New("synth.command must be set when mode=exec")
		}
		if cfg.Synth.ModelsDir == "" {
			return errors.New("synth.models_dir must be set when mode=exec")
		}
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	if cfg.Synth.Timeout <= 0 {
		return errors.New("synth.timeout_s must be positive")
	}
	if cfg.Jobs.AsyncThresholdChars < 0 {
		return errors.New("jobs.async_threshold_chars must be >= 0")
	}
	return nil
}
