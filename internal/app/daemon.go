package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/muninn/internal/audio"
	"github.com/rbright/muninn/internal/command"
	"github.com/rbright/muninn/internal/config"
	"github.com/rbright/muninn/internal/files"
	"github.com/rbright/muninn/internal/ipc"
	"github.com/rbright/muninn/internal/led"
	"github.com/rbright/muninn/internal/logging"
	"github.com/rbright/muninn/internal/session"
	"github.com/rbright/muninn/internal/speech"
	"github.com/rbright/muninn/internal/wakeword"
)

// cleanupInterval is how often the daemon prunes recordings past retention.
const cleanupInterval = 24 * time.Hour

// daemon holds every long-lived component of a running appliance.
type daemon struct {
	coordinator *session.Coordinator
	files       *files.Manager
	retention   time.Duration
	logger      *slog.Logger

	closers []io.Closer
}

func (d *daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// buildDaemon wires config into the coordinator and its collaborators.
func buildDaemon(ctx context.Context, cfg config.Config, logRuntime logging.Runtime, stdin io.Reader, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{retention: cfg.Audio.Retention(), logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, db)

	d.files, err = files.NewManager(config.ExpandPath(cfg.Audio.Dir), logger)
	if err != nil {
		return nil, err
	}

	speechOpts := speech.Options{
		Backend:         cfg.Speech.Backend,
		LanguageCode:    cfg.Speech.LanguageCode,
		Model:           cfg.Speech.Model,
		Timeout:         cfg.Speech.Timeout(),
		Phrases:         append(append([]string(nil), cfg.Speech.Phrases...), cfg.MemberNames()...),
		Endpoint:        cfg.Speech.Google.Endpoint,
		Insecure:        cfg.Speech.Google.Insecure,
		CredentialsFile: config.ExpandPath(cfg.Speech.Google.CredentialsFile),
		APIKey:          cfg.Speech.Google.APIKey,
		DeepgramURL:     cfg.Speech.Deepgram.URL,
		DeepgramAPIKey:  cfg.Speech.Deepgram.APIKey,
	}
	if cfg.Debug.ResponseDump && cfg.Speech.Backend != speech.BackendNone {
		dumpPath := filepath.Join(filepath.Dir(logRuntime.Path), "speech-responses.jsonl")
		dump, err := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open response dump: %w", err)
		}
		d.closers = append(d.closers, dump)
		speechOpts.DebugResponseSink = dump
		logger.Info("recognizer responses dumped", "path", dumpPath)
	}
	transcriber, err := speech.New(ctx, speechOpts, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, transcriber)

	var (
		source audio.SourceOpener
		sink   audio.Sink
	)
	switch cfg.Audio.Backend {
	case "mock":
		source = audio.SilentSource(cfg.Audio.SampleRate, audio.DefaultChunkSamples)
		sink = audio.TimedSink
	default:
		source = audio.PulseSource(cfg.Audio.Input, cfg.Audio.Fallback, audio.CaptureOptions{
			SampleRate: cfg.Audio.SampleRate,
			MediaName:  "muninn recording",
		}, logger)
		sink = audio.PulseSink
	}
	recorder := audio.NewRecorder(source, audio.RecorderConfig{
		SampleRate:      cfg.Audio.SampleRate,
		EnergyThreshold: cfg.Audio.EnergyThreshold,
		SilenceDuration: cfg.Audio.Silence(),
		MaxDuration:     cfg.Audio.MaxRecording(),
	}, logger)
	player := audio.NewPlayer(sink, cfg.Playback.Volume, logger)

	var cues *led.Cues
	if cfg.LED.Cues {
		cues = led.NewCues(sink, led.CueFiles{
			Listening: cfg.LED.CueFiles.Listening,
			Recording: cfg.LED.CueFiles.Recording,
			Saved:     cfg.LED.CueFiles.Saved,
			Cancel:    cfg.LED.CueFiles.Cancel,
		}, logger)
		d.closers = append(d.closers, closerFunc(func() error { cues.Wait(); return nil }))
	}
	members := make([]led.Member, 0, len(cfg.Family))
	for _, m := range cfg.Family {
		members = append(members, led.Member{Name: m.Name, Range: led.Range{Start: m.LEDStart, End: m.LEDEnd}})
	}
	leds := led.NewController(led.NewMemoryStrip(cfg.LED.Count, logger.With("component", "led")), members, led.Options{
		CycleStep: cfg.LED.CycleStep(),
		Cues:      cues,
		Logger:    logger,
	})

	if stdin == nil {
		stdin = os.Stdin
	}
	detector, err := wakeword.New(wakeword.Options{
		Backend:  cfg.Wake.Backend,
		Words:    cfg.Wake.Words,
		Interval: cfg.Wake.Interval(),
		Input:    stdin,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	opts := session.DefaultOptions()
	opts.ListenTimeout = cfg.Wake.ListenTimeout()
	opts.PlaybackLimit = cfg.Playback.Limit
	opts.RecentDays = cfg.Playback.RecentDays
	opts.VoiceCommands = cfg.Wake.VoiceCommands
	opts.Logger = logger

	d.coordinator, err = session.New(session.Deps{
		Detector:    detector,
		Recorder:    recorder,
		Player:      player,
		LEDs:        leds,
		Transcriber: transcriber,
		Store:       db,
		Files:       d.files,
		Classifier:  command.NewClassifier(cfg.MemberNames(), cfg.Wake.Words...),
	}, opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// runCleanup prunes expired recordings now and then once per cleanupInterval.
func (d *daemon) runCleanup(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		removed, err := d.files.CleanupOlderThan(ctx, d.retention)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("audio cleanup failed", "error", err.Error())
		} else if len(removed) > 0 {
			d.logger.Info("audio cleanup", "removed", len(removed))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, logRuntime logging.Runtime, logger *slog.Logger) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.IPC.Socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	d, err := buildDaemon(ctx, cfg, logRuntime, r.Stdin, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon setup failed", "error", err.Error())
		return 1
	}
	defer func() { _ = d.Close() }()

	logger.Info("daemon running", "socket", socketPath, "members", cfg.MemberNames())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.coordinator.Run(gctx)
	})
	g.Go(func() error {
		if err := ipc.Serve(gctx, listener, d.coordinator); err != nil {
			return fmt.Errorf("ipc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return d.runCleanup(gctx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon failed", "error", err.Error())
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}
