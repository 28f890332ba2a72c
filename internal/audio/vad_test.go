package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func constantChunk(samples int, value int16) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return SamplesToPCM16(s)
}

func TestRMS(t *testing.T) {
	require.Zero(t, RMS(nil))
	require.Zero(t, RMS(constantChunk(16, 0)))
	require.InDelta(t, 1000, RMS(constantChunk(16, 1000)), 0.001)
	require.InDelta(t, 1000, RMS(constantChunk(16, -1000)), 0.001)
}

func TestSilenceDetectorTriggersAfterLimit(t *testing.T) {
	// 1600 samples at 16kHz = 100ms per chunk.
	d := NewSilenceDetector(300, 300*time.Millisecond, 16000)
	quiet := constantChunk(1600, 10)

	require.False(t, d.Observe(quiet))
	require.False(t, d.Observe(quiet))
	require.False(t, d.Observe(quiet)) // exactly at the limit
	require.True(t, d.Observe(quiet))
	require.Equal(t, 400*time.Millisecond, d.Silence())
}

func TestSilenceDetectorResetsOnSpeech(t *testing.T) {
	d := NewSilenceDetector(300, 150*time.Millisecond, 16000)
	quiet := constantChunk(1600, 10)
	loud := constantChunk(1600, 2000)

	require.False(t, d.Observe(quiet))
	require.False(t, d.Observe(loud))
	require.Zero(t, d.Silence())
	require.False(t, d.Observe(quiet))
	require.True(t, d.Observe(quiet))

	d.Reset()
	require.Zero(t, d.Silence())
}

func TestSilenceDetectorDisabled(t *testing.T) {
	d := NewSilenceDetector(300, 0, 0)
	for i := 0; i < 100; i++ {
		require.False(t, d.Observe(constantChunk(1600, 0)))
	}
}
