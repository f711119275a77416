package triage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogCoversEveryKey(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	require.Len(t, Keys(), 17)
	for _, key := range Keys() {
		require.NotEmpty(t, catalog.Text(key), key)
	}
	require.Equal(t, "Please tell me more about how you are feeling.", catalog.Text("NOPE"))
}

func TestLoadCatalogOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hi.yaml")
	content := `
responses:
  ask_temp: "Kya aapne apna taapmaan naapa hai?"
  CLOSING: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, "Kya aapne apna taapmaan naapa hai?", catalog.Text(KeyAskTemp))
	// blank overrides keep the built-in text
	require.Equal(t, defaultTexts[KeyClosing], catalog.Text(KeyClosing))
}

func TestLoadCatalogRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("responses:\n  SOMETHING: hi\n"), 0o600))

	_, err := LoadCatalog(path)
	require.Error(t, err)
}

func TestLoadCatalogEmptyPath(t *testing.T) {
	t.Parallel()

	catalog, err := LoadCatalog("  ")
	require.NoError(t, err)
	require.Equal(t, defaultTexts[KeyUnclear], catalog.Text(KeyUnclear))
}
