package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/muninn/internal/audio"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "audio"), nil)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local) }
	return m
}

func TestNewManagerRequiresDir(t *testing.T) {
	_, err := NewManager("  ", nil)
	require.Error(t, err)
}

func TestGenerateFilename(t *testing.T) {
	m := newTestManager(t)

	require.Equal(t, "CARRIE_20260304_050607.wav", m.GenerateFilename("carrie"))
	require.Equal(t, "MARY_ANN_20260304_050607.wav", m.GenerateFilename(" Mary Ann!"))
	require.Equal(t, "UNKNOWN_20260304_050607.wav", m.GenerateFilename("???"))
}

func TestGenerateFilenameAvoidsCollisions(t *testing.T) {
	m := newTestManager(t)

	first := m.GenerateFilename("carrie")
	require.NoError(t, os.WriteFile(m.Path(first), nil, 0o644))
	second := m.GenerateFilename("carrie")
	require.Equal(t, "CARRIE_20260304_050607_1.wav", second)
	require.NoError(t, os.WriteFile(m.Path(second), nil, 0o644))
	require.Equal(t, "CARRIE_20260304_050607_2.wav", m.GenerateFilename("carrie"))
}

func TestExistsDurationRemove(t *testing.T) {
	m := newTestManager(t)
	path := m.Path("msg.wav")

	require.False(t, m.Exists(path))
	require.False(t, m.Exists(m.Dir()))
	_, ok := m.Duration(path)
	require.False(t, ok)

	require.NoError(t, audio.WriteWAVFile(path, make([]byte, 16000), 16000, 1))
	require.True(t, m.Exists(path))
	d, ok := m.Duration(path)
	require.True(t, ok)
	require.InDelta(t, 0.5, d, 0.001)

	require.NoError(t, m.Remove(path))
	require.False(t, m.Exists(path))
	require.NoError(t, m.Remove(path))
}

func TestCleanupOlderThanAndStats(t *testing.T) {
	m := newTestManager(t)
	now := m.now()

	oldPath := m.Path("OLD.wav")
	newPath := m.Path(filepath.Join("CARRIE", "NEW.wav"))
	notes := m.Path("notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(newPath), 0o755))
	require.NoError(t, os.WriteFile(oldPath, make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(newPath, make([]byte, 20), 0o644))
	require.NoError(t, os.WriteFile(notes, make([]byte, 40), 0o644))
	require.NoError(t, os.Chtimes(oldPath, now.AddDate(-2, 0, 0), now.AddDate(-2, 0, 0)))
	require.NoError(t, os.Chtimes(newPath, now, now))

	stats, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{Files: 2, TotalBytes: 30}, stats)

	removed, err := m.CleanupOlderThan(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{oldPath}, removed)
	require.True(t, m.Exists(newPath))
	require.True(t, m.Exists(notes))
}

func TestStatsMegaBytes(t *testing.T) {
	require.Equal(t, 1.5, Stats{TotalBytes: 3 * 512 * 1024}.MegaBytes())
	require.Equal(t, 0.0, Stats{}.MegaBytes())
}
