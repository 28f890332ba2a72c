package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/muninn/internal/audio"
	"github.com/rbright/muninn/internal/command"
	"github.com/rbright/muninn/internal/files"
	"github.com/rbright/muninn/internal/fsm"
	"github.com/rbright/muninn/internal/led"
	"github.com/rbright/muninn/internal/store"
	"github.com/rbright/muninn/internal/timer"
	"github.com/stretchr/testify/require"
)

type scheduled struct {
	after time.Duration
	fn    func()
}

// manualScheduler holds callbacks until the test fires them.
type manualScheduler struct {
	mu      sync.Mutex
	next    timer.Handle
	pending map[timer.Handle]scheduled
	stopped bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[timer.Handle]scheduled)}
}

func (s *manualScheduler) After(d time.Duration, fn func()) timer.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	s.next++
	s.pending[s.next] = scheduled{after: d, fn: fn}
	return s.next
}

func (s *manualScheduler) Cancel(h timer.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[h]
	delete(s.pending, h)
	return ok
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = make(map[timer.Handle]scheduled)
}

func (s *manualScheduler) has(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.after == d {
			return true
		}
	}
	return false
}

// fire runs every pending callback scheduled with delay d and returns how many ran.
func (s *manualScheduler) fire(d time.Duration) int {
	s.mu.Lock()
	handles := make([]timer.Handle, 0, len(s.pending))
	for h, p := range s.pending {
		if p.after == d {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]func(), 0, len(handles))
	for _, h := range handles {
		fns = append(fns, s.pending[h].fn)
		delete(s.pending, h)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (s *manualScheduler) waitAndFire(t *testing.T, d time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return s.has(d) }, time.Second, time.Millisecond)
	s.fire(d)
}

type fakeDetector struct {
	mu         sync.Mutex
	onDetected func()
	stopped    atomic.Bool
}

func (d *fakeDetector) Start(onDetected func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDetected = onDetected
	return nil
}

func (d *fakeDetector) Stop() { d.stopped.Store(true) }

func (d *fakeDetector) detect() {
	d.mu.Lock()
	fn := d.onDetected
	d.mu.Unlock()
	fn()
}

// fakeRecorder writes a short WAV file when its session ends.
type fakeRecorder struct {
	mu         sync.Mutex
	refuse     bool
	paths      []string
	active     bool
	onFinished func()
	stops      atomic.Int32
}

func (r *fakeRecorder) Start(path string, onFinished func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse || r.active {
		return false
	}
	r.paths = append(r.paths, path)
	r.active = true
	r.onFinished = onFinished
	return true
}

func (r *fakeRecorder) Stop() {
	r.stops.Add(1)
	r.finish()
}

func (r *fakeRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// finish ends the active session as if silence was detected.
func (r *fakeRecorder) finish() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	path := r.paths[len(r.paths)-1]
	fn := r.onFinished
	r.mu.Unlock()

	_ = audio.WriteWAVFile(path, make([]byte, 3200), audio.DefaultSampleRate, 1)
	fn()
}

func (r *fakeRecorder) startedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// fakePlayer records play calls. With autoComplete set every file completes right away on its
// own goroutine.
type fakePlayer struct {
	autoComplete bool
	refuse       map[string]bool

	mu       sync.Mutex
	played   []string
	current  func()
	overlaps int
	stops    atomic.Int32
}

func (p *fakePlayer) Play(path string, onComplete func()) bool {
	if p.refuse[path] {
		return false
	}
	p.mu.Lock()
	if p.current != nil {
		p.overlaps++
	}
	p.played = append(p.played, path)
	p.current = onComplete
	p.mu.Unlock()

	if p.autoComplete {
		go p.complete()
	}
	return true
}

func (p *fakePlayer) complete() {
	p.mu.Lock()
	fn := p.current
	p.current = nil
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePlayer) Stop() {
	p.stops.Add(1)
	p.complete()
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (p *fakePlayer) playedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type fakeLEDs struct {
	mu    sync.Mutex
	calls []string
}

func (l *fakeLEDs) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *fakeLEDs) SetIdleMode()      { l.record("idle") }
func (l *fakeLEDs) SetListeningMode() { l.record("listening") }
func (l *fakeLEDs) SetRecordingMode() { l.record("recording") }
func (l *fakeLEDs) StopAnimation()    { l.record("stop") }
func (l *fakeLEDs) ClearAll()         { l.record("clear") }

func (l *fakeLEDs) IlluminateMember(member string, color led.Color) {
	l.record("member:" + member + ":" + color.String())
}

func (l *fakeLEDs) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return ""
	}
	return l.calls[len(l.calls)-1]
}

func (l *fakeLEDs) has(call string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == call {
			return true
		}
	}
	return false
}

// fakeTranscriber blocks on gate when it is set.
type fakeTranscriber struct {
	text  string
	ok    bool
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (string, bool) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.text, f.ok
}

// fakeStore keeps messages in insertion order; listings are newest first.
type fakeStore struct {
	mu       sync.Mutex
	messages []store.Message
	addErr   error
}

func (s *fakeStore) AddMessage(_ context.Context, member string, filename string, path string, duration *float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return 0, s.addErr
	}
	msg := store.Message{
		ID:              int64(len(s.messages) + 1),
		FamilyMember:    strings.ToUpper(member),
		Filename:        filename,
		FilePath:        path,
		DurationSeconds: duration,
		RecordedAt:      time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *fakeStore) UpdateTranscription(_ context.Context, id int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Transcription = &text
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) newestFirst(keep func(store.Message) bool) []store.Message {
	var out []store.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if keep(s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	return out
}

func (s *fakeStore) MessagesForMember(_ context.Context, member string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.newestFirst(func(m store.Message) bool { return m.FamilyMember == member })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) RecentMessages(_ context.Context, days int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	return s.newestFirst(func(m store.Message) bool { return m.RecordedAt.After(cutoff) }), nil
}

func (s *fakeStore) MemberCounts(context.Context) ([]store.MemberCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, m := range s.messages {
		counts[m.FamilyMember]++
	}
	out := make([]store.MemberCount, 0, len(counts))
	for member, n := range counts {
		out = append(out, store.MemberCount{Member: member, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out, nil
}

func (s *fakeStore) snapshot() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

type harness struct {
	coordinator *Coordinator
	machine     *fsm.Machine
	timers      *manualScheduler
	detector    *fakeDetector
	recorder    *fakeRecorder
	player      *fakePlayer
	leds        *fakeLEDs
	transcriber *fakeTranscriber
	store       *fakeStore
	files       *files.Manager

	sleepEntries atomic.Int32
}

func newHarness(t *testing.T, opts Options, members ...string) *harness {
	t.Helper()

	manager, err := files.NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	h := &harness{
		machine:     fsm.New(nil),
		timers:      newManualScheduler(),
		detector:    &fakeDetector{},
		recorder:    &fakeRecorder{},
		player:      &fakePlayer{autoComplete: true},
		leds:        &fakeLEDs{},
		transcriber: &fakeTranscriber{text: "hello from carrie", ok: true},
		store:       &fakeStore{},
		files:       manager,
	}
	h.machine.RegisterStateCallback(fsm.StateSleeping, func(fsm.Context) error {
		h.sleepEntries.Add(1)
		return nil
	})

	c, err := New(Deps{
		Machine:     h.machine,
		Timers:      h.timers,
		Detector:    h.detector,
		Recorder:    h.recorder,
		Player:      h.player,
		LEDs:        h.leds,
		Transcriber: h.transcriber,
		Store:       h.store,
		Files:       h.files,
		Classifier:  command.NewClassifier(members),
	}, opts)
	require.NoError(t, err)
	h.coordinator = c
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.coordinator.Start())
	t.Cleanup(h.coordinator.Shutdown)
}

// seed stores one message per member with a real WAV file, oldest first.
func (h *harness) seed(t *testing.T, members ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(members))
	for i, member := range members {
		path := filepath.Join(h.files.Dir(), member+"_"+string(rune('a'+i))+".wav")
		require.NoError(t, audio.WriteWAVFile(path, make([]byte, 320), audio.DefaultSampleRate, 1))
		_, err := h.store.AddMessage(context.Background(), member, filepath.Base(path), path, nil)
		require.NoError(t, err)
		paths = append(paths, path)
	}
	return paths
}

func waitForState(t *testing.T, c *Coordinator, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, time.Second, time.Millisecond,
		"state %s, want %s", c.State(), want)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
