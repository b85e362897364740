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
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Node         NodeConfig         `yaml:"node"`
	Audio        AudioConfig        `yaml:"audio"`
	Segmenter    SegmenterConfig    `yaml:"segmenter"`
	Recognizer   RecognizerConfig   `yaml:"recognizer"`
	Consolidator ConsolidatorConfig `yaml:"consolidator"`
	Output       OutputConfig       `yaml:"output"`
	Store        StoreConfig        `yaml:"store"`
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

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// SegmenterConfig controls the sliding audio window: segments of segment_ms
// advance by segment_ms-overlap_ms, so consecutive segments share overlap_ms
// of audio.
type SegmenterConfig struct {
	SegmentMS int `yaml:"segment_ms"`
	OverlapMS int `yaml:"overlap_ms"`
}

type RecognizerConfig struct {
	Mode             string `yaml:"mode"` // mock, exec, websocket
	Command          string `yaml:"command"`
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	ModelPath        string `yaml:"model_path"`
	Language         string `yaml:"language"`
	Workers          int    `yaml:"workers"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

type DedupConfig struct {
	MaxWindow      int     `yaml:"max_window"`
	MatchRatio     float64 `yaml:"match_ratio"`
	WordSimilarity float64 `yaml:"word_similarity"`
}

type ConsolidatorConfig struct {
	StabilityThresholdMS int         `yaml:"stability_threshold_ms"`
	Dedup                DedupConfig `yaml:"dedup"`
	SessionIdleTimeoutMS int         `yaml:"session_idle_timeout_ms"`
}

type OutputConfig struct {
	Stdout  bool `yaml:"stdout"`
	Newline bool `yaml:"newline"`
	Interim bool `yaml:"interim"`
	Publish bool `yaml:"publish"`
	Durable bool `yaml:"durable"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "prattle-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "prattle-node-1",
			Role:              "consolidator",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "transcribe"},
			},
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		Segmenter: SegmenterConfig{
			SegmentMS: 5000,
			OverlapMS: 1000,
		},
		Recognizer: RecognizerConfig{
			Mode:             "mock",
			Language:         "en",
			Workers:          2,
			RequestTimeoutMS: 30000,
		},
		Consolidator: ConsolidatorConfig{
			StabilityThresholdMS: 5000,
			Dedup: DedupConfig{
				MaxWindow:      10,
				MatchRatio:     0.8,
				WordSimilarity: 1.0,
			},
			SessionIdleTimeoutMS: 60000,
		},
		Output: OutputConfig{
			Stdout:  true,
			Newline: true,
			Interim: false,
			Publish: true,
			Durable: false,
		},
		Store: StoreConfig{
			Path:          "./data/prattle-transcripts.db",
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
	overrideString(&cfg.RuntimeName, "PRATTLE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PRATTLE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PRATTLE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PRATTLE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PRATTLE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PRATTLE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PRATTLE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PRATTLE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PRATTLE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PRATTLE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PRATTLE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PRATTLE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PRATTLE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PRATTLE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PRATTLE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PRATTLE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "PRATTLE_NODE_ID")
	overrideString(&cfg.Node.Role, "PRATTLE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "PRATTLE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "PRATTLE_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "PRATTLE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "PRATTLE_AUDIO_CHANNELS")
	overrideInt(&cfg.Segmenter.SegmentMS, "PRATTLE_SEGMENTER_SEGMENT_MS")
	overrideInt(&cfg.Segmenter.OverlapMS, "PRATTLE_SEGMENTER_OVERLAP_MS")
	overrideString(&cfg.Recognizer.Mode, "PRATTLE_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "PRATTLE_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.URL, "PRATTLE_RECOGNIZER_URL")
	overrideString(&cfg.Recognizer.APIKey, "PRATTLE_RECOGNIZER_API_KEY")
	overrideString(&cfg.Recognizer.ModelPath, "PRATTLE_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "PRATTLE_RECOGNIZER_LANGUAGE")
	overrideInt(&cfg.Recognizer.Workers, "PRATTLE_RECOGNIZER_WORKERS")
	overrideInt(&cfg.Recognizer.RequestTimeoutMS, "PRATTLE_RECOGNIZER_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Consolidator.StabilityThresholdMS, "PRATTLE_CONSOLIDATOR_STABILITY_THRESHOLD_MS")
	overrideInt(&cfg.Consolidator.Dedup.MaxWindow, "PRATTLE_CONSOLIDATOR_DEDUP_MAX_WINDOW")
	overrideFloat(&cfg.Consolidator.Dedup.MatchRatio, "PRATTLE_CONSOLIDATOR_DEDUP_MATCH_RATIO")
	overrideFloat(&cfg.Consolidator.Dedup.WordSimilarity, "PRATTLE_CONSOLIDATOR_DEDUP_WORD_SIMILARITY")
	overrideInt(&cfg.Consolidator.SessionIdleTimeoutMS, "PRATTLE_CONSOLIDATOR_SESSION_IDLE_TIMEOUT_MS")
	overrideBool(&cfg.Output.Stdout, "PRATTLE_OUTPUT_STDOUT")
	overrideBool(&cfg.Output.Newline, "PRATTLE_OUTPUT_NEWLINE")
	overrideBool(&cfg.Output.Interim, "PRATTLE_OUTPUT_INTERIM")
	overrideBool(&cfg.Output.Publish, "PRATTLE_OUTPUT_PUBLISH")
	overrideBool(&cfg.Output.Durable, "PRATTLE_OUTPUT_DURABLE")
	overrideString(&cfg.Store.Path, "PRATTLE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "PRATTLE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "PRATTLE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "PRATTLE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "PRATTLE_STORE_VACUUM_ON_START")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Segmenter.SegmentMS <= 0 {
		return errors.New("segmenter.segment_ms must be positive")
	}
	if cfg.Segmenter.OverlapMS < 0 {
		return errors.New("segmenter.overlap_ms must be >= 0")
	}
	if cfg.Segmenter.OverlapMS >= cfg.Segmenter.SegmentMS {
		return errors.New("segmenter.overlap_ms must be shorter than segmenter.segment_ms")
	}
	switch cfg.Recognizer.Mode {
	case "mock":
	case "exec":
		if cfg.Recognizer.Command == "" {
			return errors.New("recognizer.command must be set when mode=exec")
		}
	case "websocket":
		if cfg.Recognizer.URL == "" {
			return errors.New("recognizer.url must be set when mode=websocket")
		}
		if cfg.Segmenter.OverlapMS != 0 {
			return errors.New("segmenter.overlap_ms must be 0 when recognizer.mode=websocket: overlapped audio would be streamed twice")
		}
	default:
		return errors.New("recognizer.mode must be one of mock|exec|websocket")
	}
	if cfg.Recognizer.Workers <= 0 {
		return errors.New("recognizer.workers must be >= 1")
	}
	if cfg.Recognizer.RequestTimeoutMS <= 0 {
		return errors.New("recognizer.request_timeout_ms must be positive")
	}
	if cfg.Consolidator.StabilityThresholdMS < 0 {
		return errors.New("consolidator.stability_threshold_ms must be >= 0")
	}
	if cfg.Consolidator.Dedup.MaxWindow < 1 {
		return errors.New("consolidator.dedup.max_window must be >= 1")
	}
	if cfg.Consolidator.Dedup.MatchRatio <= 0 || cfg.Consolidator.Dedup.MatchRatio > 1 {
		return errors.New("consolidator.dedup.match_ratio must be in (0, 1]")
	}
	if cfg.Consolidator.Dedup.WordSimilarity <= 0 || cfg.Consolidator.Dedup.WordSimilarity > 1 {
		return errors.New("consolidator.dedup.word_similarity must be in (0, 1]")
	}
	if cfg.Consolidator.SessionIdleTimeoutMS <= 0 {
		return errors.New("consolidator.session_idle_timeout_ms must be positive")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}
