// Package wakeword provides wake-word detector backends.
package wakeword

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	BackendStdin    = "stdin"
	BackendInterval = "interval"
	BackendNone     = "none"
)

// ErrAlreadyStarted is returned by Start on a running detector.
var ErrAlreadyStarted = errors.New("wake-word detector already started")

// Detector signals wake-word detections until stopped.
type Detector interface {
	Start(onDetected func()) error
	Stop()
}

// Options configures New.
type Options struct {
	Backend  string
	Words    []string
	Interval time.Duration
	Input    io.Reader
	Logger   *slog.Logger
}

// New builds the configured detector.
func New(opts Options) (Detector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendNone:
		return None{}, nil
	case BackendStdin:
		if opts.Input == nil {
			return nil, errors.New("stdin wake-word detector requires an input")
		}
		return NewLines(opts.Input, opts.Words, logger), nil
	case BackendInterval:
		return NewInterval(opts.Interval, logger), nil
	default:
		return nil, fmt.Errorf("unsupported wake-word backend %q", opts.Backend)
	}
}

// None never fires; wake-ups arrive through IPC only.
type None struct{}

func (None) Start(func()) error { return nil }
func (None) Stop()              {}

// Lines fires once per input line that is empty (a bare Enter) or starts with a wake word.
type Lines struct {
	input  io.Reader
	words  []string
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewLines builds a line detector over input.
func NewLines(input io.Reader, words []string, logger *slog.Logger) *Lines {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			normalized = append(normalized, w)
		}
	}
	return &Lines{input: input, words: normalized, logger: logger}
}

func (l *Lines) Start(onDetected func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true

	go l.scan(onDetected)
	l.logger.Info("wake-word detector listening on input lines", "words", strings.Join(l.words, ","))
	return nil
}

// scan may outlive Stop while blocked on Read; it never fires after Stop.
func (l *Lines) scan(onDetected func()) {
	scanner := bufio.NewScanner(l.input)
	for scanner.Scan() {
		if l.isStopped() {
			return
		}
		if !l.matches(scanner.Text()) {
			continue
		}
		l.logger.Debug("wake word detected", "source", BackendStdin)
		if onDetected != nil {
			onDetected()
		}
	}
	if err := scanner.Err(); err != nil && !l.isStopped() {
		l.logger.Warn("wake-word input failed", "error", err.Error())
	}
}

func (l *Lines) matches(line string) bool {
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return true
	}
	for _, w := range l.words {
		if line == w || strings.HasPrefix(line, w+" ") || strings.HasPrefix(line, w+",") {
			return true
		}
	}
	return false
}

func (l *Lines) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Lines) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
}

// Interval fires on a fixed period. It stands in for a hotword engine during development.
type Interval struct {
	every  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewInterval builds a periodic detector. A non-positive period defaults to 10s.
func NewInterval(every time.Duration, logger *slog.Logger) *Interval {
	if every <= 0 {
		every = 10 * time.Second
	}
	return &Interval{every: every, logger: logger}
}

func (d *Interval) Start(onDetected func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrAlreadyStarted
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(d.every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.logger.Debug("wake word detected", "source", BackendInterval)
				if onDetected != nil {
					onDetected()
				}
			}
		}
	}(d.stop, d.done)
	return nil
}

// Stop halts the ticker and waits for an in-flight callback to return.
func (d *Interval) Stop() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
