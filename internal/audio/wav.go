package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrUnsupportedFormat marks audio the runtime cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format describes PCM layout.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ByteRate returns bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// Duration returns the playback length of n PCM bytes.
func (f Format) Duration(n int64) float64 {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

// WritePCM16WAV writes raw little-endian PCM bytes with a minimal WAV header.
func WritePCM16WAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], []byte("WAVE"))
	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// WriteWAVFile writes pcm to path through a temp file so readers never see a partial file.
func WriteWAVFile(path string, pcm []byte, sampleRate int, channels int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rec-*.wav")
	if err != nil {
		return fmt.Errorf("create temp wav: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := WritePCM16WAV(tmp, pcm, sampleRate, channels); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write wav %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close wav %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename wav %q: %w", path, err)
	}
	return nil
}

// wavHeader is the parsed fmt chunk plus the data chunk size.
type wavHeader struct {
	format   Format
	dataSize int64
}

// readWAVHeader consumes r up to the first byte of the data chunk.
func readWAVHeader(r io.Reader) (wavHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavHeader{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavHeader{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var (
		header  wavHeader
		haveFmt bool
		chunk   [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return wavHeader{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavHeader{}, fmt.Errorf("%w: fmt chunk too short", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavHeader{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(body[0:2]); audioFormat != 1 {
				return wavHeader{}, fmt.Errorf("%w: wav encoding %d is not PCM", ErrUnsupportedFormat, audioFormat)
			}
			header.format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return wavHeader{}, fmt.Errorf("skip fmt padding: %w", err)
				}
			}
		case "data":
			if !haveFmt {
				return wavHeader{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			header.dataSize = size
			return header, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return wavHeader{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// ReadWAV decodes a 16-bit PCM WAV stream.
func ReadWAV(r io.Reader) (Format, []byte, error) {
	header, err := readWAVHeader(r)
	if err != nil {
		return Format{}, nil, err
	}
	if header.format.BitsPerSample != 16 {
		return Format{}, nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, header.format.BitsPerSample)
	}
	if header.format.Channels <= 0 || header.format.SampleRate <= 0 {
		return Format{}, nil, fmt.Errorf("%w: invalid channel count or sample rate", ErrUnsupportedFormat)
	}

	pcm, err := io.ReadAll(io.LimitReader(r, header.dataSize))
	if err != nil {
		return Format{}, nil, fmt.Errorf("read data chunk: %w", err)
	}
	// Truncated recordings keep whatever whole frames arrived.
	frame := header.format.Channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%frame]
	return header.format, pcm, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Format, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, nil, err
	}
	defer f.Close()
	return ReadWAV(bufio.NewReader(f))
}

// WAVDuration returns the length in seconds of the WAV file at path, reading only its header.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header, err := readWAVHeader(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}
	size := header.dataSize
	if stat, err := f.Stat(); err == nil {
		// Streams written without a final size report 0 or 0xFFFFFFFF.
		if available := stat.Size() - 44; size == 0 || size > available {
			size = available
		}
	}
	if size < 0 {
		size = 0
	}
	return header.format.Duration(size), nil
}

// SamplesToPCM16 converts samples into little-endian bytes.
func SamplesToPCM16(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
