// Package doctor runs runtime readiness diagnostics for config, audio, storage, speech, and IPC.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rbright/muninn/internal/audio"
	"github.com/rbright/muninn/internal/config"
	"github.com/rbright/muninn/internal/ipc"
	"github.com/rbright/muninn/internal/speech"
	"github.com/rbright/muninn/internal/store"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	checks := []Check{{Name: "config", Pass: true, Message: message}}

	checks = append(checks, checkFamily(cfg.Config))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkAudioDir(cfg.Config.Audio.Dir))
	checks = append(checks, checkStorage(ctx, cfg.Config.Storage))
	checks = append(checks, checkSpeech(ctx, cfg.Config.Speech))
	checks = append(checks, checkSocket(ctx, cfg.Config.IPC))

	return Report{Checks: checks}
}

func checkFamily(cfg config.Config) Check {
	names := cfg.MemberNames()
	if len(names) == 0 {
		return Check{Name: "family", Pass: false, Message: "no family members configured"}
	}
	return Check{Name: "family", Pass: true, Message: strings.Join(names, ", ")}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	if cfg.Audio.Backend == "mock" {
		return Check{Name: "audio.device", Pass: true, Message: "mock backend; no device needed"}
	}
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkAudioDir verifies recordings can be written.
func checkAudioDir(raw string) Check {
	dir := config.ExpandPath(raw)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "audio.dir", Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "audio.dir", Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Check{Name: "audio.dir", Pass: true, Message: fmt.Sprintf("writable %s", dir)}
}

// checkStorage opens the database, runs migrations, and pings it.
func checkStorage(ctx context.Context, cfg config.StorageConfig) Check {
	name := "storage." + cfg.Driver
	ctx, cancel := context.WithTimeout(ctx, 2*probeTimeout)
	defer cancel()

	dsn := cfg.DSN
	if cfg.Driver == store.DriverSQLite {
		dsn = config.ExpandPath(dsn)
	}
	db, err := store.Open(ctx, store.Config{Driver: cfg.Driver, DSN: dsn}, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	counts, err := db.MemberCounts(ctx)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	total := int64(0)
	for _, c := range counts {
		total += c.Count
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready (%d messages)", total)}
}

// checkSpeech validates backend credentials and endpoint reachability.
func checkSpeech(ctx context.Context, cfg config.SpeechConfig) Check {
	name := "speech." + cfg.Backend
	switch cfg.Backend {
	case speech.BackendNone:
		return Check{Name: name, Pass: true, Message: "transcription disabled"}
	case speech.BackendMock:
		return Check{Name: name, Pass: true, Message: "mock transcriptions"}
	case speech.BackendGoogle:
		g := cfg.Google
		if g.Insecure {
			return checkTCP(ctx, name, g.Endpoint)
		}
		if g.CredentialsFile != "" {
			path := config.ExpandPath(g.CredentialsFile)
			if _, err := os.Stat(path); err != nil {
				return Check{Name: name, Pass: false, Message: fmt.Sprintf("credentials file: %v", err)}
			}
			return Check{Name: name, Pass: true, Message: fmt.Sprintf("credentials %s", filepath.Base(path))}
		}
		if g.APIKey != "" {
			return Check{Name: name, Pass: true, Message: "api key configured"}
		}
		if env := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); env != "" {
			return Check{Name: name, Pass: true, Message: "using GOOGLE_APPLICATION_CREDENTIALS"}
		}
		return Check{Name: name, Pass: false, Message: "no credentials_file, api_key, or GOOGLE_APPLICATION_CREDENTIALS"}
	case speech.BackendDeepgram:
		base := cfg.Deepgram.URL
		if base == "" {
			base = speech.DefaultDeepgramURL
		}
		return checkHTTPReachable(ctx, name, base)
	default:
		return Check{Name: name, Pass: false, Message: "unknown backend"}
	}
}

func checkTCP(ctx context.Context, name string, endpoint string) Check {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("dial %s: %v", endpoint, err)}
	}
	_ = conn.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", endpoint)}
}

// checkHTTPReachable passes on any HTTP answer below 500.
func checkHTTPReachable(ctx context.Context, name string, base string) Check {
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	url := strings.TrimRight(base, "/")

	resp, err := resty.New().SetTimeout(probeTimeout).R().SetContext(ctx).Get(url)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	if resp.StatusCode() >= 500 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode(), url)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode(), url)}
}

// checkSocket reports the control socket path and whether a daemon answers on it.
func checkSocket(ctx context.Context, cfg config.IPCConfig) Check {
	path, err := ipc.ResolveSocketPath(cfg.Socket)
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: err.Error()}
	}
	alive, _ := ipc.Probe(ctx, path, 200*time.Millisecond)
	if alive {
		return Check{Name: "ipc.socket", Pass: true, Message: fmt.Sprintf("daemon running at %s", path)}
	}
	return Check{Name: "ipc.socket", Pass: true, Message: fmt.Sprintf("no daemon at %s", path)}
}
