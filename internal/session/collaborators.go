package session

import (
	"context"
	"time"

	"github.com/rbright/muninn/internal/led"
	"github.com/rbright/muninn/internal/store"
	"github.com/rbright/muninn/internal/timer"
)

// WakeWordDetector invokes onDetected from its own goroutine for every detection.
type WakeWordDetector interface {
	Start(onDetected func()) error
	Stop()
}

// Recorder captures one file at a time. onFinished fires exactly once per started session.
type Recorder interface {
	Start(path string, onFinished func()) bool
	Stop()
	IsRecording() bool
}

// Player plays one file at a time. onComplete fires exactly once per accepted Play, including
// when playback fails.
type Player interface {
	Play(path string, onComplete func()) bool
	Stop()
	IsPlaying() bool
}

// LEDs drives the state display. Every method is fire-and-forget.
type LEDs interface {
	SetIdleMode()
	SetListeningMode()
	SetRecordingMode()
	IlluminateMember(member string, color led.Color)
	StopAnimation()
	ClearAll()
}

// Transcriber converts a recording to text. A false result means no usable text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, bool)
}

// MessageStore persists message records. Listings are most recent first.
type MessageStore interface {
	AddMessage(ctx context.Context, member string, filename string, path string, duration *float64) (int64, error)
	UpdateTranscription(ctx context.Context, id int64, text string) error
	MessagesForMember(ctx context.Context, member string, limit int) ([]store.Message, error)
	RecentMessages(ctx context.Context, days int) ([]store.Message, error)
	MemberCounts(ctx context.Context) ([]store.MemberCount, error)
}

// FileNamer owns the audio directory layout.
type FileNamer interface {
	GenerateFilename(member string) string
	Path(name string) string
	Exists(path string) bool
	Duration(path string) (float64, bool)
	Remove(path string) error
}

// Scheduler runs delayed callbacks. *timer.Service satisfies it.
type Scheduler interface {
	After(d time.Duration, fn func()) timer.Handle
	Cancel(handle timer.Handle) bool
	Stop()
}

type noopLEDs struct{}

func (noopLEDs) SetIdleMode()                       {}
func (noopLEDs) SetListeningMode()                  {}
func (noopLEDs) SetRecordingMode()                  {}
func (noopLEDs) IlluminateMember(string, led.Color) {}
func (noopLEDs) StopAnimation()                     {}
func (noopLEDs) ClearAll()                          {}

type noopDetector struct{}

func (noopDetector) Start(func()) error { return nil }
func (noopDetector) Stop()              {}

type noopTranscriber struct{}

func (noopTranscriber) Transcribe(context.Context, string) (string, bool) { return "", false }
