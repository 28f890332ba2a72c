package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/muninn/internal/store"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, paths runnerPaths, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	code := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
	return code, stdout.String(), stderr.String()
}

// seedMessages writes one audio file and row per member, oldest first, and returns the ids.
func seedMessages(t *testing.T, paths runnerPaths, members ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: paths.dbPath}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	require.NoError(t, os.MkdirAll(paths.audioDir, 0o755))
	ids := make([]int64, 0, len(members))
	for i, member := range members {
		name := member + "_2026010" + string(rune('1'+i)) + "_080000.wav"
		path := filepath.Join(paths.audioDir, name)
		require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))
		duration := 2.5
		id, err := db.AddMessage(ctx, member, name, path, &duration)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestHistoryListsNewestFirst(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	seedMessages(t, paths, "carrie", "odin")

	code, out, errOut := runCLI(t, paths, "history")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "ODIN")
	require.Contains(t, lines[2], "CARRIE")
	require.Contains(t, lines[1], "2.5s")

	code, out, errOut = runCLI(t, paths, "history", "1")
	require.Equal(t, 0, code, errOut)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	code, _, errOut = runCLI(t, paths, "history", "zero")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, `invalid message count "zero"`)
}

func TestHistoryWithoutMessages(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	code, out, errOut := runCLI(t, paths, "history")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "no messages\n", out)
}

func TestShowAndSearchMessage(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	ids := seedMessages(t, paths, "carrie", "odin")

	db, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: paths.dbPath}, nil)
	require.NoError(t, err)
	require.NoError(t, db.UpdateTranscription(context.Background(), ids[0], "dentist on tuesday"))
	require.NoError(t, db.Close())

	code, out, errOut := runCLI(t, paths, "show", "1")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "member:        CARRIE")
	require.Contains(t, out, "transcription: dentist on tuesday")
	require.Contains(t, out, "archived:      false")

	code, out, errOut = runCLI(t, paths, "search", "dentist")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "CARRIE")
	require.NotContains(t, out, "ODIN")

	code, out, errOut = runCLI(t, paths, "search", "plumber")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "no messages\n", out)

	code, _, errOut = runCLI(t, paths, "show", "42")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "message not found")

	code, _, errOut = runCLI(t, paths, "show", "abc")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, `invalid message id "abc"`)
}

func TestArchiveHidesMessageFromListings(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	seedMessages(t, paths, "carrie", "odin")

	code, out, errOut := runCLI(t, paths, "archive", "2")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "archived message 2\n", out)

	code, out, errOut = runCLI(t, paths, "list")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "CARRIE=1\n", out)

	code, out, errOut = runCLI(t, paths, "show", "2")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "archived:      true")
}

func TestDeleteRemovesRowAndAudioFile(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	seedMessages(t, paths, "carrie")
	entries, err := os.ReadDir(paths.audioDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	code, out, errOut := runCLI(t, paths, "delete", "1")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "deleted message 1\n", out)

	entries, err = os.ReadDir(paths.audioDir)
	require.NoError(t, err)
	require.Empty(t, entries)

	code, _, errOut = runCLI(t, paths, "delete", "1")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "message not found")
}

func TestSettingRoundTrip(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	code, _, errOut := runCLI(t, paths, "setting", "volume")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, `setting "volume" is not set`)

	code, out, errOut := runCLI(t, paths, "setting", "volume", "0.4")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "volume=0.4\n", out)

	code, out, errOut = runCLI(t, paths, "setting", "volume", "0.6")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "volume=0.6\n", out)

	code, out, errOut = runCLI(t, paths, "setting", "volume")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "0.6\n", out)
}
