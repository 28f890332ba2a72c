package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// DefaultEnergyThreshold is the RMS level (s16 scale) below which a chunk counts as silence.
	DefaultEnergyThreshold = 300
	// DefaultSilenceDuration ends a recording after this much continuous silence.
	DefaultSilenceDuration = 3 * time.Second
)

// RMS returns the root-mean-square energy of little-endian s16 PCM.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// SilenceDetector tracks continuous low-energy audio. Time is measured in audio duration, not
// wall clock, so results are deterministic for a given stream.
type SilenceDetector struct {
	threshold  float64
	limit      time.Duration
	sampleRate int

	silentFor time.Duration
}

// NewSilenceDetector builds a detector for mono s16 audio at sampleRate.
func NewSilenceDetector(threshold float64, limit time.Duration, sampleRate int) *SilenceDetector {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &SilenceDetector{threshold: threshold, limit: limit, sampleRate: sampleRate}
}

// Observe feeds one chunk and reports whether silence has lasted longer than the limit.
// A non-positive limit disables detection.
func (d *SilenceDetector) Observe(chunk []byte) bool {
	if d.limit <= 0 {
		return false
	}
	if RMS(chunk) >= d.threshold {
		d.silentFor = 0
		return false
	}
	d.silentFor += time.Duration(len(chunk)/2) * time.Second / time.Duration(d.sampleRate)
	return d.silentFor > d.limit
}

// Silence returns the current run of continuous silence.
func (d *SilenceDetector) Silence() time.Duration {
	return d.silentFor
}

// Reset clears the silence run.
func (d *SilenceDetector) Reset() {
	d.silentFor = 0
}
