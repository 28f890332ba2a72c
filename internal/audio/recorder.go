package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Source is a started PCM stream. Stop must close Chunks after flushing buffered audio.
type Source interface {
	Chunks() <-chan []byte
	Stop() error
}

// SourceOpener starts one capture stream per recording.
type SourceOpener func(ctx context.Context) (Source, error)

// PulseSource opens the configured Pulse input for every recording.
func PulseSource(input string, fallback string, opts CaptureOptions, logger *slog.Logger) SourceOpener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(ctx context.Context) (Source, error) {
		selection, err := SelectDevice(ctx, input, fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" {
			logger.Warn(selection.Warning, "device", selection.Device.ID)
		}
		capture, err := StartCapture(ctx, selection.Device, opts)
		if err != nil {
			return nil, err
		}
		return capture, nil
	}
}

// RecorderConfig tunes silence detection and session bounds.
type RecorderConfig struct {
	SampleRate      int
	EnergyThreshold float64
	SilenceDuration time.Duration
	// MaxDuration caps one recording; zero means unbounded.
	MaxDuration time.Duration
	StopTimeout time.Duration
}

// DefaultRecorderConfig returns the appliance recording defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		SampleRate:      DefaultSampleRate,
		EnergyThreshold: DefaultEnergyThreshold,
		SilenceDuration: DefaultSilenceDuration,
		MaxDuration:     5 * time.Minute,
		StopTimeout:     2 * time.Second,
	}
}

// Recorder captures one message at a time into a WAV file and ends on silence, Stop, source
// exhaustion, or MaxDuration.
type Recorder struct {
	cfg    RecorderConfig
	open   SourceOpener
	logger *slog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	path   string
	source Source

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRecorder builds a recorder over open.
func NewRecorder(open SourceOpener, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	defaults := DefaultRecorderConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{cfg: cfg, open: open, logger: logger}
}

// Start opens the source and records into path on a background goroutine. onFinished fires
// exactly once after the file is written (or skipped when nothing was captured). It returns
// false when a recording is already active or the source cannot be opened.
func (r *Recorder) Start(path string, onFinished func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.logger.Warn("recording already active", "path", r.active.path)
		return false
	}
	if r.open == nil {
		r.logger.Error("recorder has no audio source")
		return false
	}

	source, err := r.open(context.Background())
	if err != nil {
		r.logger.Error("open audio source failed", "error", err.Error())
		return false
	}

	rec := &recording{
		path:   path,
		source: source,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.active = rec
	r.logger.Info("recording started", "path", path)

	go r.run(rec, onFinished)
	return true
}

func (r *Recorder) run(rec *recording, onFinished func()) {
	detector := NewSilenceDetector(r.cfg.EnergyThreshold, r.cfg.SilenceDuration, r.cfg.SampleRate)
	started := time.Now()

	var maxElapsed <-chan time.Time
	if r.cfg.MaxDuration > 0 {
		t := time.NewTimer(r.cfg.MaxDuration)
		defer t.Stop()
		maxElapsed = t.C
	}

	var (
		pcm    []byte
		reason string
	)
loop:
	for {
		select {
		case <-rec.stop:
			reason = "stopped"
			break loop
		case <-maxElapsed:
			reason = "max_duration"
			break loop
		case chunk, ok := <-rec.source.Chunks():
			if !ok {
				reason = "source_closed"
				break loop
			}
			pcm = append(pcm, chunk...)
			if detector.Observe(chunk) {
				reason = "silence"
				break loop
			}
		}
	}

	if err := rec.source.Stop(); err != nil {
		r.logger.Warn("stop audio source failed", "error", err.Error())
	}
	for chunk := range rec.source.Chunks() {
		pcm = append(pcm, chunk...)
	}

	if len(pcm) == 0 {
		r.logger.Warn("recording captured no audio", "path", rec.path, "reason", reason)
	} else if err := WriteWAVFile(rec.path, pcm, r.cfg.SampleRate, 1); err != nil {
		r.logger.Error("write recording failed", "path", rec.path, "error", err.Error())
	} else {
		r.logger.Info("recording finished",
			"path", rec.path,
			"reason", reason,
			"bytes", len(pcm),
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}

	r.mu.Lock()
	if r.active == rec {
		r.active = nil
	}
	r.mu.Unlock()
	close(rec.done)

	if onFinished != nil {
		onFinished()
	}
}

// Stop ends the active recording and waits up to StopTimeout for the file to be written.
func (r *Recorder) Stop() {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return
	}

	rec.stopOnce.Do(func() { close(rec.stop) })

	select {
	case <-rec.done:
	case <-time.After(r.cfg.StopTimeout):
		r.logger.Warn("recording did not stop in time", "path", rec.path, "timeout", r.cfg.StopTimeout.String())
	}
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Path returns the target file of the active recording.
func (r *Recorder) Path() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.path, true
}
