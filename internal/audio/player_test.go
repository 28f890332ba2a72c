package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, name string, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, WriteWAVFile(path, SamplesToPCM16(samples), 16000, 1))
	return path
}

func TestPlayerPlaysThroughSinkWithVolume(t *testing.T) {
	path := writeTestWAV(t, "msg.wav", []int16{1000, -1000})

	var got []int16
	var gotFormat Format
	sink := func(_ context.Context, samples []int16, format Format) error {
		got = samples
		gotFormat = format
		return nil
	}

	p := NewPlayer(sink, 0.5, nil)
	done := make(chan struct{})
	require.True(t, p.Play(path, func() { close(done) }))
	waitClosed(t, done)

	require.Len(t, got, 2)
	require.InDelta(t, 500, got[0], 1)
	require.InDelta(t, -500, got[1], 1)
	require.Equal(t, 16000, gotFormat.SampleRate)
	require.False(t, p.IsPlaying())
}

func TestPlayerRejectsUnsupportedAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	flac := filepath.Join(dir, "msg.flac")
	require.NoError(t, os.WriteFile(flac, []byte("fLaC"), 0o644))

	p := NewPlayer(TimedSink, 1, nil)
	called := false
	require.False(t, p.Play(flac, func() { called = true }))
	require.False(t, p.Play(filepath.Join(dir, "missing.ogg"), func() { called = true }))
	require.False(t, p.Play(filepath.Join(dir, "missing.wav"), func() { called = true }))
	require.False(t, called)

	require.ErrorIs(t, checkPlayable(flac), ErrUnsupportedFormat)
}

func TestPlayerAcceptsCompressedFormats(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"msg.mp3", "MSG.OGG"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))
		require.NoError(t, checkPlayable(path))

		p := NewPlayer(TimedSink, 1, nil)
		var calls atomic.Int32
		done := make(chan struct{})
		require.True(t, p.Play(path, func() {
			if calls.Add(1) == 1 {
				close(done)
			}
		}))
		waitClosed(t, done)
		require.Equal(t, int32(1), calls.Load())
	}
}

func TestDecodeFileWAV(t *testing.T) {
	path := writeTestWAV(t, "msg.wav", []int16{16000, -16000, 0})

	samples, format, err := DecodeFile(path, 1)
	require.NoError(t, err)
	require.Equal(t, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, format)
	require.Len(t, samples, 3)
	require.InDelta(t, 16000, samples[0], 1)
	require.InDelta(t, -16000, samples[1], 1)
	require.Zero(t, samples[2])

	_, _, err = DecodeFile(filepath.Join(t.TempDir(), "x.aiff"), 1)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPlayerCompletesOnceOnDecodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("not really a wav"), 0o644))

	p := NewPlayer(TimedSink, 1, nil)
	var calls atomic.Int32
	done := make(chan struct{})
	require.True(t, p.Play(path, func() {
		if calls.Add(1) == 1 {
			close(done)
		}
	}))
	waitClosed(t, done)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestPlayerStopCancelsSinkAndCompletes(t *testing.T) {
	path := writeTestWAV(t, "long.wav", make([]int16, 16000*10))
	started := make(chan struct{})
	sink := func(ctx context.Context, samples []int16, format Format) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	p := NewPlayer(sink, 1, nil)
	var calls atomic.Int32
	require.True(t, p.Play(path, func() { calls.Add(1) }))
	waitClosed(t, started)
	require.True(t, p.IsPlaying())

	p.Stop()
	require.False(t, p.IsPlaying())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPlayerPlayReplacesCurrentPlayback(t *testing.T) {
	first := writeTestWAV(t, "first.wav", make([]int16, 16000*10))
	second := writeTestWAV(t, "second.wav", []int16{1})

	p := NewPlayer(TimedSink, 1, nil)
	var firstDone, secondDone atomic.Int32
	require.True(t, p.Play(first, func() { firstDone.Add(1) }))
	require.True(t, p.Play(second, func() { secondDone.Add(1) }))

	require.Eventually(t, func() bool { return firstDone.Load() == 1 && secondDone.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPlayerSinkErrorStillCompletes(t *testing.T) {
	path := writeTestWAV(t, "msg.wav", []int16{1, 2})
	p := NewPlayer(func(context.Context, []int16, Format) error {
		return errors.New("device busy")
	}, 1, nil)

	done := make(chan struct{})
	require.True(t, p.Play(path, func() { close(done) }))
	waitClosed(t, done)
}

func TestTimedSinkWaitsForDuration(t *testing.T) {
	start := time.Now()
	require.NoError(t, TimedSink(context.Background(), make([]int16, 800), Format{SampleRate: 16000, Channels: 1}))
	require.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, TimedSink(ctx, make([]int16, 16000*60), Format{SampleRate: 16000, Channels: 1}), context.Canceled)
}

func TestPulseSinkRejectsSurroundAudio(t *testing.T) {
	err := PulseSink(context.Background(), []int16{0}, Format{SampleRate: 16000, Channels: 6, BitsPerSample: 16})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
