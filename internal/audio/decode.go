package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

// PlayableExtensions lists the file types DecodeFile understands.
var PlayableExtensions = []string{".wav", ".mp3", ".ogg"}

// DecodeFile decodes a wav, mp3 or ogg file into interleaved s16 samples scaled by gain. Mono
// sources stay mono; everything else is rendered as stereo.
func DecodeFile(path string, gain float64) ([]int16, Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(PlayableExtensions, ext) {
		return nil, Format{}, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, err
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		streamer, format, err = vorbis.Decode(f)
	}
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	channels := 2
	if format.NumChannels == 1 {
		channels = 1
	}

	var samples []int16
	if n := streamer.Len(); n > 0 {
		samples = make([]int16, 0, n*channels)
	}
	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			samples = append(samples, floatToS16(frame[0], gain))
			if channels == 2 {
				samples = append(samples, floatToS16(frame[1], gain))
			}
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return samples, Format{SampleRate: int(format.SampleRate), Channels: channels, BitsPerSample: 16}, nil
}

func floatToS16(v float64, gain float64) int16 {
	v *= gain
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
