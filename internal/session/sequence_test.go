package session

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceEmptyFinishesImmediately(t *testing.T) {
	player := &fakePlayer{autoComplete: true}
	var calls atomic.Int32
	seq := NewSequence(player, nil, nil, func(played int) {
		calls.Add(1)
		require.Zero(t, played)
	}, nil)

	seq.Start()
	require.True(t, seq.Done())
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, player.playedPaths())
}

func TestSequencePlaysInOrderWithoutOverlap(t *testing.T) {
	player := &fakePlayer{}
	done := make(chan int, 1)
	paths := []string{"a.wav", "b.wav", "c.wav"}
	seq := NewSequence(player, nil, paths, func(played int) { done <- played }, nil)

	seq.Start()
	require.Equal(t, []string{"a.wav"}, player.playedPaths())
	player.complete()
	require.Equal(t, []string{"a.wav", "b.wav"}, player.playedPaths())
	player.complete()
	player.complete()

	require.Equal(t, 3, <-done)
	require.Equal(t, paths, player.playedPaths())
	require.Zero(t, player.overlaps)
}

func TestSequenceSkipsMissingAndStopsOnRefusal(t *testing.T) {
	player := &fakePlayer{autoComplete: true, refuse: map[string]bool{"c.wav": true}}
	exists := func(path string) bool { return path != "a.wav" }
	done := make(chan int, 1)
	seq := NewSequence(player, exists, []string{"a.wav", "b.wav", "c.wav", "d.wav"}, func(played int) {
		done <- played
	}, nil)

	seq.Start()
	require.Equal(t, 1, <-done)
	require.Equal(t, []string{"b.wav"}, player.playedPaths())
}

func TestSequenceCancelFinishesOnce(t *testing.T) {
	player := &fakePlayer{}
	var calls atomic.Int32
	seq := NewSequence(player, nil, []string{"a.wav", "b.wav"}, func(int) { calls.Add(1) }, nil)

	seq.Start()
	seq.Cancel()
	player.complete()
	seq.Cancel()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{"a.wav"}, player.playedPaths())
	require.Equal(t, 1, seq.Played())
}

func TestSequenceCancelWhileCheckingFileStartsNothing(t *testing.T) {
	player := &fakePlayer{}
	entered := make(chan struct{})
	gate := make(chan struct{})
	exists := func(string) bool {
		close(entered)
		<-gate
		return true
	}
	var calls atomic.Int32
	seq := NewSequence(player, exists, []string{"a.wav"}, func(int) { calls.Add(1) }, nil)

	started := make(chan struct{})
	go func() {
		defer close(started)
		seq.Start()
	}()
	<-entered

	seq.Cancel()
	player.Stop()
	close(gate)
	<-started

	require.Empty(t, player.playedPaths())
	require.False(t, player.IsPlaying())
	require.Equal(t, int32(1), calls.Load())
	require.Zero(t, seq.Played())
}
