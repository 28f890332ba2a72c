package audio

import (
	"context"
	"sync"
	"time"
)

// SilentSource returns an opener for a source that emits zeroed chunks in real time, so the
// recorder ends each mock session through its silence detector.
func SilentSource(sampleRate int, chunkSamples int) SourceOpener {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if chunkSamples <= 0 {
		chunkSamples = DefaultChunkSamples
	}
	interval := time.Duration(chunkSamples) * time.Second / time.Duration(sampleRate)

	return func(ctx context.Context) (Source, error) {
		s := &silentSource{
			chunks: make(chan []byte, 8),
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		go s.run(ctx, chunkSamples*2, interval)
		return s, nil
	}
}

type silentSource struct {
	chunks   chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *silentSource) run(ctx context.Context, chunkBytes int, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.chunks <- make([]byte, chunkBytes):
			case <-s.stop:
				return
			}
		}
	}
}

func (s *silentSource) Chunks() <-chan []byte {
	return s.chunks
}

func (s *silentSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		close(s.chunks)
	})
	return nil
}

// TimedSink is an output that plays nothing and returns after the audio's duration.
func TimedSink(ctx context.Context, samples []int16, format Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil
	}
	frames := len(samples) / format.Channels
	d := time.Duration(frames) * time.Second / time.Duration(format.SampleRate)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
