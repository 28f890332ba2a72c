package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

// Sink renders decoded samples and returns once they have been played or ctx is done.
type Sink func(ctx context.Context, samples []int16, format Format) error

// PulseSink plays interleaved s16 samples on the default Pulse output.
func PulseSink(ctx context.Context, samples []int16, format Format) error {
	var channels pulse.PlaybackOption
	switch format.Channels {
	case 1:
		channels = pulse.PlaybackMono
	case 2:
		channels = pulse.PlaybackStereo
	default:
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.Channels)
	}

	client, err := newPulseClient()
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		channels,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("muninn message"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	return ctx.Err()
}

// Player plays one wav, mp3 or ogg file at a time through a Sink.
type Player struct {
	sink        Sink
	volume      float64
	stopTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	active *playback
}

type playback struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer builds a player. volume is clamped to [0, 1].
func NewPlayer(sink Sink, volume float64, logger *slog.Logger) *Player {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Player{sink: sink, volume: volume, stopTimeout: 2 * time.Second, logger: logger}
}

// Play starts playback of path and returns false when the file is missing or of an unknown type. Any
// current playback is stopped first. onComplete fires exactly once for every accepted call,
// including when decoding or output fails.
func (p *Player) Play(path string, onComplete func()) bool {
	if err := checkPlayable(path); err != nil {
		p.logger.Error("cannot play file", "path", path, "error", err.Error())
		return false
	}

	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{path: path, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.active = pb
	p.mu.Unlock()

	go func() {
		defer cancel()
		if err := p.render(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("playback failed", "path", path, "error", err.Error())
		} else {
			p.logger.Debug("playback finished", "path", path)
		}

		p.mu.Lock()
		if p.active == pb {
			p.active = nil
		}
		p.mu.Unlock()
		close(pb.done)

		if onComplete != nil {
			onComplete()
		}
	}()
	return true
}

func (p *Player) render(ctx context.Context, path string) error {
	if p.sink == nil {
		return errors.New("player has no output sink")
	}
	samples, format, err := DecodeFile(path, p.volume)
	if err != nil {
		return err
	}
	return p.sink(ctx, samples, format)
}

// Stop cancels the current playback and waits briefly for it to wind down.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.active
	p.mu.Unlock()
	if pb == nil {
		return
	}

	pb.cancel()
	select {
	case <-pb.done:
	case <-time.After(p.stopTimeout):
		p.logger.Warn("playback did not stop in time", "path", pb.path)
	}
}

// IsPlaying reports whether a file is being played.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// checkPlayable accepts existing files with a decodable extension.
func checkPlayable(path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); !slices.Contains(PlayableExtensions, ext) {
		return fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", path)
	}
	return nil
}
