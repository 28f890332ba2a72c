package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Loaded is the appliance configuration together with where it came from.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	// Exists is false when Path was missing and Config holds the defaults.
	Exists bool
}

// Load reads the muninn config file. A missing file yields the defaults and a warning.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Config: Default()}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
		return loaded, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("stat config %q: %w", path, err)
	case info.IsDir():
		return Loaded{}, fmt.Errorf("config %q is a directory", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg, warnings, err := Parse(string(content), loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	loaded.Config = cfg
	loaded.Warnings = append(warnings, secretWarnings(path, info.Mode(), cfg)...)
	loaded.Exists = true
	return loaded, nil
}

// secretWarnings flags speech API keys stored in a file other users can read.
func secretWarnings(path string, mode fs.FileMode, cfg Config) []Warning {
	if mode.Perm()&0o044 == 0 {
		return nil
	}
	if cfg.Speech.Google.APIKey == "" && cfg.Speech.Deepgram.APIKey == "" {
		return nil
	}
	return []Warning{{
		Message: fmt.Sprintf("config %q holds a speech api key and is readable by other users; chmod 600 it", path),
	}}
}
