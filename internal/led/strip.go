// Package led drives the household LED strip: member ranges, state animations, and audio cues.
package led

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultCount is the number of pixels on the appliance strip.
const DefaultCount = 60

// Color is one RGB pixel value.
type Color struct {
	R, G, B uint8
}

var (
	Off   = Color{}
	Red   = Color{R: 255}
	Green = Color{G: 255}
	Blue  = Color{B: 255}
	White = Color{R: 255, G: 255, B: 255}
)

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Range is a half-open pixel span [Start, End).
type Range struct {
	Start int
	End   int
}

// Strip is the pixel hardware. SetPixel buffers; Show latches the buffer onto the LEDs.
type Strip interface {
	Len() int
	SetPixel(i int, c Color)
	Show() error
}

// MemoryStrip is a Strip that keeps pixels in memory and optionally logs each frame.
type MemoryStrip struct {
	logger *slog.Logger

	mu     sync.Mutex
	pixels []Color
	shown  []Color
	frames int
}

// NewMemoryStrip builds an n-pixel strip. A nil logger keeps it silent.
func NewMemoryStrip(n int, logger *slog.Logger) *MemoryStrip {
	if n <= 0 {
		n = DefaultCount
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryStrip{
		logger: logger,
		pixels: make([]Color, n),
		shown:  make([]Color, n),
	}
}

func (s *MemoryStrip) Len() int {
	return len(s.pixels)
}

func (s *MemoryStrip) SetPixel(i int, c Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= 0 && i < len(s.pixels) {
		s.pixels[i] = c
	}
}

func (s *MemoryStrip) Show() error {
	s.mu.Lock()
	copy(s.shown, s.pixels)
	s.frames++
	lit := 0
	for _, c := range s.shown {
		if c != Off {
			lit++
		}
	}
	s.mu.Unlock()

	s.logger.Debug("led frame", "lit", lit)
	return nil
}

// Pixels returns the last shown frame.
func (s *MemoryStrip) Pixels() []Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Color(nil), s.shown...)
}

// Frames returns how many times Show was called.
func (s *MemoryStrip) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
