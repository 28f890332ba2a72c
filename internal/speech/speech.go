// Package speech turns recorded messages into text through a pluggable recognizer backend.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ErrNoSpeech is returned when a backend answered but recognized nothing.
var ErrNoSpeech = errors.New("no speech recognized")

const (
	BackendGoogle   = "google"
	BackendDeepgram = "deepgram"
	BackendMock     = "mock"
	BackendNone     = "none"
)

// Recognizer transcribes one WAV file.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (string, error)
}

// Options selects and tunes a backend.
type Options struct {
	Backend      string
	LanguageCode string
	Model        string
	Timeout      time.Duration
	Phrases      []string

	// Endpoint overrides the Google API endpoint. Insecure dials it without TLS or credentials.
	Endpoint        string
	Insecure        bool
	DialTimeout     time.Duration
	CredentialsFile string
	APIKey          string

	DeepgramURL    string
	DeepgramAPIKey string

	// DebugResponseSink receives one JSON document per recognizer response.
	DebugResponseSink io.Writer
}

// Service adapts a Recognizer to the never-failing transcription contract the session expects.
type Service struct {
	rec     Recognizer
	backend string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the configured backend. The none backend yields a Service whose Transcribe always
// reports no text.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Service, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	var (
		rec Recognizer
		err error
	)
	switch backend {
	case "", BackendNone:
		backend = BackendNone
	case BackendGoogle:
		rec, err = NewGoogle(ctx, opts)
	case BackendDeepgram:
		rec, err = NewDeepgram(opts)
	case BackendMock:
		rec = Mock{}
	default:
		return nil, fmt.Errorf("unsupported speech backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	s := NewService(rec, opts.Timeout, logger)
	s.backend = backend
	return s, nil
}

// NewService wraps rec. A non-positive timeout defaults to 30s.
func NewService(rec Recognizer, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{rec: rec, timeout: timeout, logger: logger}
}

// Backend names the active recognizer.
func (s *Service) Backend() string {
	if s == nil || s.backend == "" {
		return BackendNone
	}
	return s.backend
}

// Transcribe returns the recognized text for path. Every failure is logged and reported as
// ok=false; nothing is retried.
func (s *Service) Transcribe(ctx context.Context, path string) (string, bool) {
	if s == nil || s.rec == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.rec.Recognize(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			s.logger.Info("transcription empty", "path", path)
		} else {
			s.logger.Warn("transcription failed", "path", path, "error", err.Error())
		}
		return "", false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	s.logger.Info("transcription complete",
		"path", path,
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, true
}

// Close releases backend connections.
func (s *Service) Close() error {
	if s == nil || s.rec == nil {
		return nil
	}
	if closer, ok := s.rec.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Mock is a development recognizer that returns fixed text.
type Mock struct{}

// MockTranscription is the text Mock returns for every file.
const MockTranscription = "This is a mock transcription of the audio file."

func (Mock) Recognize(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return MockTranscription, nil
}
