package speech

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/muninn/internal/audio"
	"github.com/stretchr/testify/require"
)

type recognizerFunc func(ctx context.Context, path string) (string, error)

func (f recognizerFunc) Recognize(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CARRIE_20260101_120000.wav")
	require.NoError(t, audio.WriteWAVFile(path, audio.SamplesToPCM16([]int16{1, -1, 2, -2}), 16000, 1))
	return path
}

func TestServiceTranscribeTrimsText(t *testing.T) {
	s := NewService(recognizerFunc(func(context.Context, string) (string, error) {
		return "  hello there \n", nil
	}), time.Second, nil)

	text, ok := s.Transcribe(context.Background(), "x.wav")
	require.True(t, ok)
	require.Equal(t, "hello there", text)
}

func TestServiceTranscribeSwallowsFailures(t *testing.T) {
	for name, err := range map[string]error{
		"backend error": errors.New("quota exceeded"),
		"no speech":     ErrNoSpeech,
	} {
		t.Run(name, func(t *testing.T) {
			s := NewService(recognizerFunc(func(context.Context, string) (string, error) {
				return "", err
			}), time.Second, nil)
			text, ok := s.Transcribe(context.Background(), "x.wav")
			require.False(t, ok)
			require.Empty(t, text)
		})
	}

	blank := NewService(recognizerFunc(func(context.Context, string) (string, error) {
		return "   ", nil
	}), time.Second, nil)
	_, ok := blank.Transcribe(context.Background(), "x.wav")
	require.False(t, ok)
}

func TestServiceTranscribeAppliesTimeout(t *testing.T) {
	s := NewService(recognizerFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond, nil)

	start := time.Now()
	_, ok := s.Transcribe(context.Background(), "x.wav")
	require.False(t, ok)
	require.Less(t, time.Since(start), time.Second)
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	_, ok := s.Transcribe(context.Background(), "x.wav")
	require.False(t, ok)
	require.NoError(t, s.Close())
	require.Equal(t, BackendNone, s.Backend())
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	none, err := New(ctx, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, BackendNone, none.Backend())
	_, ok := none.Transcribe(ctx, "x.wav")
	require.False(t, ok)

	mock, err := New(ctx, Options{Backend: "Mock"}, nil)
	require.NoError(t, err)
	require.Equal(t, BackendMock, mock.Backend())
	text, ok := mock.Transcribe(ctx, "x.wav")
	require.True(t, ok)
	require.Equal(t, MockTranscription, text)
	require.NoError(t, mock.Close())

	_, err = New(ctx, Options{Backend: "whisper"}, nil)
	require.ErrorContains(t, err, "unsupported speech backend")

	_, err = New(ctx, Options{Backend: BackendDeepgram}, nil)
	require.ErrorContains(t, err, "api key")

	_, err = New(ctx, Options{Backend: BackendGoogle, Insecure: true}, nil)
	require.ErrorContains(t, err, "endpoint")
}

func TestMockHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Mock{}.Recognize(ctx, "x.wav")
	require.ErrorIs(t, err, context.Canceled)
}

func TestDebugSinkReceivesOneLinePerResponse(t *testing.T) {
	var sink bytes.Buffer
	d := newTestDeepgram(t, `{"results":{"channels":[{"alternatives":[{"transcript":"hi"}]}]}}`, 200, &sink)

	_, err := d.Recognize(context.Background(), writeWAV(t))
	require.NoError(t, err)
	require.Equal(t, 1, bytes.Count(sink.Bytes(), []byte("\n")))
}
