package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "muninn", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "muninn", "config.jsonc"), resolved)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/odin")
	require.Equal(t, "/home/odin/.local/share/muninn", ExpandPath("~/.local/share/muninn"))
	require.Equal(t, "/home/odin", ExpandPath("~"))
	require.Equal(t, "/var/lib/muninn", ExpandPath(" /var/lib/muninn "))
	require.Equal(t, "~odin/x", ExpandPath("~odin/x"))
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  // household
  "family": [
    {"name": "carrie", "led_start": 0, "led_end": 10},
    {"name": "odin", "led_start": 10, "led_end": 20},
  ],
  "audio": {
    "backend": "mock",
    "dir": "/var/lib/muninn/messages"
  },
  "wake": {"backend": "interval", "interval_ms": 60000}
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, []string{"CARRIE", "ODIN"}, loaded.Config.MemberNames())
	require.Equal(t, "mock", loaded.Config.Audio.Backend)
	require.Equal(t, "/var/lib/muninn/messages", loaded.Config.Audio.Dir)
	require.Equal(t, "interval", loaded.Config.Wake.Backend)
	require.Equal(t, Default().Audio.SampleRate, loaded.Config.Audio.SampleRate)
	require.Equal(t, Default().Wake.Words, loaded.Config.Wake.Words)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadRejectsDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "is a directory")
}

func TestLoadWarnsAboutReadableSpeechKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `{
  "family": [{"name": "carrie", "led_start": 0, "led_end": 10}],
  "speech": {"backend": "deepgram", "deepgram": {"api_key": "dg-secret"}}
}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.False(t, hasWarning(loaded.Warnings, "readable by other users"))

	require.NoError(t, os.Chmod(path, 0o644))
	loaded, err = Load(path)
	require.NoError(t, err)
	require.True(t, hasWarning(loaded.Warnings, "readable by other users"))
}

func hasWarning(warnings []Warning, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w.Message, substr) {
			return true
		}
	}
	return false
}
