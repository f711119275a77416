package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration

	// OfflineMode runs without the remote advisor: every turn is answered
	// by the triage engine.
	OfflineMode    bool
	AdvisorModel   string
	AdvisorTimeout time.Duration

	ConnectDelay    time.Duration
	FallbackDelay   time.Duration
	TeardownDelay   time.Duration
	SimulatedSpeech time.Duration
	SimulatedListen time.Duration

	TriageCatalogFile string
	ArchiveDSN        string
	EventsBackend     string // "none", "memory" or "redis"

	LogLevel  string
	LogFormat string // "json" or "console"
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		AdvisorTimeout:  20 * time.Second,
		ConnectDelay:    1500 * time.Millisecond,
		FallbackDelay:   1000 * time.Millisecond,
		TeardownDelay:   1000 * time.Millisecond,
		SimulatedSpeech: 3000 * time.Millisecond,
		SimulatedListen: 4000 * time.Millisecond,
		EventsBackend:   "memory",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from a variable lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	config := Default()
	var err error

	if config.OfflineMode, err = envBool(getenv, "OFFLINE_MODE", config.OfflineMode); err != nil {
		return nil, err
	}

	// GEMINI_API_KEY is required unless running offline
	config.GeminiAPIKey = getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" && !config.OfflineMode {
		return nil, errors.New("GEMINI_API_KEY environment variable is required (or set OFFLINE_MODE=true)")
	}

	if config.Port, err = envInt(getenv, "PORT", config.Port); err != nil {
		return nil, err
	}
	if config.MaxSessions, err = envInt(getenv, "MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}
	if config.SessionTimeout, err = envDuration(getenv, "SESSION_TIMEOUT", time.Minute, config.SessionTimeout); err != nil {
		return nil, err
	}
	if config.KeepAlivePeriod, err = envDuration(getenv, "KEEPALIVE_PERIOD", time.Second, config.KeepAlivePeriod); err != nil {
		return nil, err
	}
	if config.AdvisorTimeout, err = envDuration(getenv, "ADVISOR_TIMEOUT", time.Second, config.AdvisorTimeout); err != nil {
		return nil, err
	}

	millis := []struct {
		name   string
		target *time.Duration
	}{
		{"CONNECT_DELAY_MS", &config.ConnectDelay},
		{"FALLBACK_DELAY_MS", &config.FallbackDelay},
		{"TEARDOWN_DELAY_MS", &config.TeardownDelay},
		{"SIMULATED_SPEECH_MS", &config.SimulatedSpeech},
		{"SIMULATED_LISTEN_MS", &config.SimulatedListen},
	}
	for _, m := range millis {
		if *m.target, err = envDuration(getenv, m.name, time.Millisecond, *m.target); err != nil {
			return nil, err
		}
	}

	if v := getenv("REDIS_URL"); v != "" {
		config.RedisURL = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		config.RedisPassword = v
	}
	// ALLOWED_ORIGINS is comma-separated
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		config.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, origin)
			}
		}
	}
	if v := getenv("ADVISOR_MODEL"); v != "" {
		config.AdvisorModel = v
	}
	config.TriageCatalogFile = getenv("TRIAGE_CATALOG_FILE")
	config.ArchiveDSN = getenv("ARCHIVE_DSN")

	if v := getenv("EVENTS_BACKEND"); v != "" {
		switch v {
		case "none", "memory", "redis":
			config.EventsBackend = v
		default:
			return nil, errors.Errorf("invalid EVENTS_BACKEND %q: must be 'none', 'memory' or 'redis'", v)
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		config.LogFormat = v
	}

	return config, nil
}

func envInt(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	if n < 0 {
		return 0, errors.Errorf("invalid %s: must not be negative", name)
	}
	return n, nil
}

func envDuration(getenv func(string) string, name string, unit time.Duration, def time.Duration) (time.Duration, error) {
	if getenv(name) == "" {
		return def, nil
	}
	n, err := envInt(getenv, name, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func envBool(getenv func(string) string, name string, def bool) (bool, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s", name)
	}
	return b, nil
}
