// Package files names, locates, measures, and prunes message audio files.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rbright/muninn/internal/audio"
)

// DefaultRetention is the age after which CleanupOlderThan removes audio by default.
const DefaultRetention = 365 * 24 * time.Hour

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// Manager owns the audio directory.
type Manager struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// Stats summarizes stored audio.
type Stats struct {
	Files      int   `json:"total_files"`
	TotalBytes int64 `json:"total_size_bytes"`
}

// MegaBytes returns TotalBytes in MiB rounded to two decimals.
func (s Stats) MegaBytes() float64 {
	mb := float64(s.TotalBytes) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}

// NewManager creates dir when missing.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("audio directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory %q: %w", dir, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{dir: dir, now: time.Now, logger: logger}, nil
}

// Dir returns the audio directory.
func (m *Manager) Dir() string {
	return m.dir
}

// GenerateFilename returns MEMBER_YYYYmmdd_HHMMSS.wav, adding a numeric suffix when a file with
// that name already exists.
func (m *Manager) GenerateFilename(member string) string {
	base := fmt.Sprintf("%s_%s", sanitizeMember(member), m.now().Format("20060102_150405"))
	name := base + ".wav"
	for i := 1; m.Exists(m.Path(name)); i++ {
		name = base + "_" + strconv.Itoa(i) + ".wav"
	}
	return name
}

// Path joins name onto the audio directory.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name)
}

// Exists reports whether path names a regular file.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Duration returns the WAV length in seconds; ok is false when the file cannot be parsed.
func (m *Manager) Duration(path string) (float64, bool) {
	d, err := audio.WAVDuration(path)
	if err != nil {
		m.logger.Warn("read audio duration failed", "path", path, "error", err.Error())
		return 0, false
	}
	return d, true
}

// Remove deletes path. Missing files are not an error.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

// AudioFiles lists every audio file under the directory.
func (m *Manager) AudioFiles() ([]string, error) {
	var out []string
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if audioExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk audio directory: %w", err)
	}
	return out, nil
}

// CleanupOlderThan removes audio files last modified before now-age and returns the removed paths.
func (m *Manager) CleanupOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	if age <= 0 {
		age = DefaultRetention
	}
	cutoff := m.now().Add(-age)

	paths, err := m.AudioFiles()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Warn("stat audio file failed", "path", path, "error", err.Error())
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := m.Remove(path); err != nil {
			m.logger.Warn("cleanup failed", "path", path, "error", err.Error())
			continue
		}
		m.logger.Info("removed old audio file", "path", path)
		removed = append(removed, path)
	}
	return removed, nil
}

// Stats counts audio files and their total size.
func (m *Manager) Stats() (Stats, error) {
	paths, err := m.AudioFiles()
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, path := range paths {
		stats.Files++
		if info, err := os.Stat(path); err == nil {
			stats.TotalBytes += info.Size()
		}
	}
	return stats, nil
}

// sanitizeMember keeps letters, digits, dashes, and underscores; spaces become underscores.
func sanitizeMember(member string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(member) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(unicode.ToUpper(r))
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "UNKNOWN"
	}
	return b.String()
}
