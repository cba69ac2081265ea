package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Catalog   CatalogConfig
	Storage   StorageConfig
	Session   SessionConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type CatalogConfig struct {
	// Path to the catalog JSON file.
	Path string
}

type StorageConfig struct {
	DataDir string
	// PersistSessions keeps sessions in SQLite instead of memory, so
	// conversations survive a restart.
	PersistSessions bool
}

type SessionConfig struct {
	// TTL and SweepInterval are duration strings ("30m", "1h").
	TTL           string
	SweepInterval string
	// ResetKeepsConstraints carries accumulated constraints across a
	// topic reset instead of clearing them.
	ResetKeepsConstraints bool
}

type RetrievalConfig struct {
	TopK int
	// MetadataFallback answers from the metadata-filtered subset when the
	// embedding provider is down, instead of failing the turn.
	MetadataFallback bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(dataDir, "catalog.json"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Session: SessionConfig{
			TTL:           "30m",
			SweepInterval: "5m",
		},
		Retrieval: RetrievalConfig{
			TopK: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend with
// environment variable overrides.
//
// On macOS the backend is UserDefaults (domain: com.toolscout.app).
// On Linux it is a JSON file at $XDG_CONFIG_HOME/toolscout/config.json.
// Environment variables (TOOLSCOUT_*) override backend values everywhere.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Catalog.Path == "" {
		return Config{}, fmt.Errorf("missing required config: catalog path. Set catalog.path or TOOLSCOUT_CATALOG_PATH")
	}

	return cfg, nil
}

// TTLDuration parses the session TTL, falling back to the default when the
// configured value does not parse.
func (c SessionConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, "session.ttl", 30*time.Minute)
}

// SweepDuration parses the sweep interval with the same fallback behavior.
func (c SessionConfig) SweepDuration() time.Duration {
	return parseDuration(c.SweepInterval, "session.sweep_interval", 5*time.Minute)
}

func parseDuration(raw, key string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config, using default",
			"key", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}

// SlogLevel maps the configured log level to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
