package led

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/muninn/internal/audio"
)

// Cue is a short audible state signal.
type Cue int

const (
	CueListening Cue = iota + 1
	CueRecording
	CueSaved
	CueCancel
)

const cueSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var builtinCues = map[Cue][]int16{
	CueListening: synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	}),
	CueRecording: synthesizeCue([]toneSpec{
		{frequencyHz: 988, duration: 140 * time.Millisecond, volume: 0.2},
	}),
	CueSaved: synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: 0.18},
		{frequencyHz: 988, duration: 90 * time.Millisecond, volume: 0.18},
	}),
	CueCancel: synthesizeCue([]toneSpec{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: 0.18},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.18},
	}),
}

// CueFiles optionally replaces built-in tones with WAV files.
type CueFiles struct {
	Listening string
	Recording string
	Saved     string
	Cancel    string
}

func (f CueFiles) path(cue Cue) string {
	var raw string
	switch cue {
	case CueListening:
		raw = f.Listening
	case CueRecording:
		raw = f.Recording
	case CueSaved:
		raw = f.Saved
	case CueCancel:
		raw = f.Cancel
	}
	return expandUserPath(raw)
}

// Cues plays tones asynchronously through an audio sink. A nil *Cues is silent.
type Cues struct {
	sink   audio.Sink
	files  CueFiles
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewCues builds a cue player over sink.
func NewCues(sink audio.Sink, files CueFiles, logger *slog.Logger) *Cues {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cues{sink: sink, files: files, logger: logger}
}

// Play starts cue in the background.
func (c *Cues) Play(cue Cue) {
	if c == nil || c.sink == nil {
		return
	}
	samples, format := c.load(cue)
	if len(samples) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := c.sink(ctx, samples, format); err != nil {
			c.logger.Debug("cue playback failed", "cue", int(cue), "error", err.Error())
		}
	}()
}

// Wait blocks until every started cue finished.
func (c *Cues) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}

func (c *Cues) load(cue Cue) ([]int16, audio.Format) {
	if path := c.files.path(cue); path != "" {
		samples, format, err := audio.DecodeFile(path, 1)
		if err == nil {
			return samples, format
		}
		c.logger.Warn("cue file unusable, using built-in tone", "path", path, "error", err.Error())
	}
	return builtinCues[cue], audio.Format{SampleRate: cueSampleRate, Channels: 1, BitsPerSample: 16}
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gap := make([]int16, samplesForDuration(22*time.Millisecond))

	var pcm []int16
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 {
			pcm = append(pcm, gap...)
		}
	}
	return pcm
}

// synthesizeTone renders a sine with a short linear attack and release to avoid clicks.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(n/10, cueSampleRate/200)
	ramp = max(ramp, 1)

	pcm := make([]int16, n)
	for i := range pcm {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = math.Min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
