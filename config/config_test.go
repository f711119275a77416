package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/room4-2/GramHealth/triage"
)

func lookup(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestDefaultsRequireKeyUnlessOffline(t *testing.T) {
	t.Parallel()

	_, err := FromEnv(lookup(nil))
	require.Error(t, err)

	cfg, err := FromEnv(lookup(map[string]string{"OFFLINE_MODE": "true"}))
	require.NoError(t, err)
	require.True(t, cfg.OfflineMode)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 1500*time.Millisecond, cfg.ConnectDelay)
	require.Equal(t, 4*time.Second, cfg.SimulatedListen)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := FromEnv(lookup(map[string]string{
		"GEMINI_API_KEY":    "key",
		"PORT":              "9090",
		"SESSION_TIMEOUT":   "5",
		"KEEPALIVE_PERIOD":  "10",
		"CONNECT_DELAY_MS":  "0",
		"FALLBACK_DELAY_MS": "250",
		"ALLOWED_ORIGINS":   "https://a.example, https://b.example",
		"EVENTS_BACKEND":    "redis",
		"ARCHIVE_DSN":       "file:archive.db",
	}))
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	require.Equal(t, 10*time.Second, cfg.KeepAlivePeriod)
	require.Equal(t, time.Duration(0), cfg.ConnectDelay)
	require.Equal(t, 250*time.Millisecond, cfg.FallbackDelay)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, "redis", cfg.EventsBackend)
	require.Equal(t, "file:archive.db", cfg.ArchiveDSN)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Parallel()

	for name, value := range map[string]string{
		"PORT":              "eighty",
		"FALLBACK_DELAY_MS": "-1",
		"EVENTS_BACKEND":    "kafka",
		"OFFLINE_MODE":      "maybe",
	} {
		_, err := FromEnv(lookup(map[string]string{"GEMINI_API_KEY": "key", name: value}))
		require.Error(t, err, name)
	}
}

func TestConsultationLoadsCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("responses:\n  CLOSING: \"Dhanyavaad!\"\n"), 0o600))

	cfg := Default()
	cfg.FallbackDelay = 0
	cfg.TriageCatalogFile = path
	consultCfg, err := cfg.Consultation()
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), consultCfg.FallbackDelay)
	require.Equal(t, "Dhanyavaad!", consultCfg.Catalog.Text(triage.KeyClosing))
	require.Equal(t, triage.DefaultCatalog().Text(triage.KeyAskTemp), consultCfg.Catalog.Text(triage.KeyAskTemp))

	cfg.TriageCatalogFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.Consultation()
	require.Error(t, err)
}
