// Package session coordinates the appliance. It turns wake words, commands and collaborator
// signals into state transitions, and drives the recorder, player and LEDs from state callbacks.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/muninn/internal/command"
	"github.com/rbright/muninn/internal/fsm"
	"github.com/rbright/muninn/internal/led"
	"github.com/rbright/muninn/internal/timer"
)

// Context keys set on the recording->processing transition.
const (
	KeySession  = "session"
	KeyFilename = "filename"
	KeyFilePath = "file_path"
)

// ErrNotRunning is returned by Dispatch before Start or after Shutdown.
var ErrNotRunning = errors.New("coordinator not running")

// Options tunes coordinator timing and limits.
type Options struct {
	// ListenTimeout returns an idle listening period to sleeping.
	ListenTimeout time.Duration
	// ProcessingDelay is the pause between saving a message and returning to sleeping.
	ProcessingDelay time.Duration
	// PlaybackLimit caps how many of a member's messages one play command plays.
	PlaybackLimit int
	// RecentDays bounds the messages considered when play names no member.
	RecentDays int
	// StoreTimeout bounds each message store call.
	StoreTimeout time.Duration
	// VoiceCommands captures and transcribes one utterance per listening period and dispatches
	// the classified command.
	VoiceCommands bool
	Logger        *slog.Logger
}

// DefaultOptions returns the appliance defaults.
func DefaultOptions() Options {
	return Options{
		ListenTimeout:   10 * time.Second,
		ProcessingDelay: 2 * time.Second,
		PlaybackLimit:   5,
		RecentDays:      7,
		StoreTimeout:    5 * time.Second,
	}
}

// Deps are the coordinator's collaborators. Machine, Timers, Detector, LEDs, Transcriber and
// Classifier are optional.
type Deps struct {
	Machine     *fsm.Machine
	Timers      Scheduler
	Detector    WakeWordDetector
	Recorder    Recorder
	Player      Player
	LEDs        LEDs
	Transcriber Transcriber
	Store       MessageStore
	Files       FileNamer
	Classifier  *command.Classifier
}

// capture is one recorder session: a message recording or a voice-command utterance.
type capture struct {
	id       string
	member   string
	filename string
	path     string
	// generation is the listening period an utterance belongs to.
	generation uint64
}

type handler func(Event) (string, error)

// Coordinator owns the state machine and is the only caller of TransitionTo.
type Coordinator struct {
	machine     *fsm.Machine
	timers      Scheduler
	detector    WakeWordDetector
	recorder    Recorder
	player      Player
	leds        LEDs
	transcriber Transcriber
	store       MessageStore
	files       FileNamer
	classifier  *command.Classifier
	opts        Options
	logger      *slog.Logger

	handlers map[EventKind]handler
	commands map[command.Kind]func(command.Command) (string, error)

	// dispatchMu makes each precondition check and its transition one step.
	dispatchMu sync.Mutex

	// generation counts state entries. Scheduled events carry the value they expect.
	generation atomic.Uint64

	mu          sync.Mutex
	recording   *capture
	utterance   *capture
	sequence    *Sequence
	listenTimer timer.Handle

	bgMu    sync.Mutex
	closing bool
	bg      sync.WaitGroup

	shutdownOnce sync.Once
}

// New wires a coordinator and registers its state callbacks. The machine is not started.
func New(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Recorder == nil:
		return nil, errors.New("session: recorder is required")
	case deps.Player == nil:
		return nil, errors.New("session: player is required")
	case deps.Store == nil:
		return nil, errors.New("session: message store is required")
	case deps.Files == nil:
		return nil, errors.New("session: file namer is required")
	}

	defaults := DefaultOptions()
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = defaults.ListenTimeout
	}
	if opts.ProcessingDelay <= 0 {
		opts.ProcessingDelay = defaults.ProcessingDelay
	}
	if opts.PlaybackLimit <= 0 {
		opts.PlaybackLimit = defaults.PlaybackLimit
	}
	if opts.RecentDays <= 0 {
		opts.RecentDays = defaults.RecentDays
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Machine == nil {
		deps.Machine = fsm.New(logger)
	}
	if deps.Timers == nil {
		deps.Timers = timer.New()
	}
	if deps.Detector == nil {
		deps.Detector = noopDetector{}
	}
	if deps.LEDs == nil {
		deps.LEDs = noopLEDs{}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = noopTranscriber{}
	}
	if deps.Classifier == nil {
		deps.Classifier = command.NewClassifier(nil)
	}

	c := &Coordinator{
		machine:     deps.Machine,
		timers:      deps.Timers,
		detector:    deps.Detector,
		recorder:    deps.Recorder,
		player:      deps.Player,
		leds:        deps.LEDs,
		transcriber: deps.Transcriber,
		store:       deps.Store,
		files:       deps.Files,
		classifier:  deps.Classifier,
		opts:        opts,
		logger:      logger,
	}

	c.handlers = map[EventKind]handler{
		EventWakeWord:          c.handleWakeWord,
		EventListenTimeout:     c.handleListenTimeout,
		EventCommand:           c.handleCommand,
		EventRecordingFinished: c.handleRecordingFinished,
		EventUtteranceFinished: c.handleUtteranceFinished,
		EventReturnToSleep:     c.handleReturnToSleep,
	}
	c.commands = map[command.Kind]func(command.Command) (string, error){
		command.KindRecord: c.commandRecord,
		command.KindPlay:   c.commandPlay,
		command.KindStop:   c.commandStop,
		command.KindFinish: c.commandFinish,
		command.KindList:   c.commandList,
		command.KindHelp:   c.commandHelp,
	}

	c.registerCallbacks()
	return c, nil
}

func (c *Coordinator) registerCallbacks() {
	for _, state := range fsm.States {
		c.machine.RegisterStateCallback(state, c.countEntry)
	}
	c.machine.RegisterStateCallback(fsm.StateSleeping, c.enterSleeping)
	c.machine.RegisterStateCallback(fsm.StateListening, c.enterListening)
	c.machine.RegisterStateCallback(fsm.StateRecording, c.enterRecording)
	c.machine.RegisterStateCallback(fsm.StatePlaying, c.enterPlaying)
	c.machine.RegisterStateCallback(fsm.StateProcessing, c.enterProcessing)

	for _, state := range fsm.States {
		if state != fsm.StateListening {
			c.machine.RegisterTransitionCallback(fsm.StateListening, state, c.leaveListening)
		}
	}
	c.machine.RegisterTransitionCallback(fsm.StateRecording, fsm.StateProcessing, c.saveRecording)
}

// Start enters sleeping and starts the wake-word detector.
func (c *Coordinator) Start() error {
	c.machine.Start()
	if err := c.detector.Start(func() { c.goDispatch(WakeWord()) }); err != nil {
		c.machine.Stop()
		return fmt.Errorf("start wake word detector: %w", err)
	}
	c.logger.Info("coordinator started", "listen_timeout", c.opts.ListenTimeout.String())
	return nil
}

// Run starts the coordinator and shuts it down when ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	c.Shutdown()
	return nil
}

// Shutdown stops the detector, ends every session, stops the machine and timers, clears the
// LEDs, then waits for background work such as pending transcriptions.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.detector.Stop()

		c.dispatchMu.Lock()
		c.endSessions()
		c.machine.Stop()
		c.dispatchMu.Unlock()

		c.timers.Stop()
		c.leds.ClearAll()

		c.bgMu.Lock()
		c.closing = true
		c.bgMu.Unlock()
		c.bg.Wait()
		c.logger.Info("coordinator stopped")
	})
}

// State returns the current device state.
func (c *Coordinator) State() fsm.State {
	return c.machine.State()
}

// Dispatch runs the handler for ev and returns a short description of what happened. A
// precondition failure returns a *RejectedError and changes nothing.
func (c *Coordinator) Dispatch(ev Event) (string, error) {
	handle, ok := c.handlers[ev.Kind]
	if !ok {
		return "", fmt.Errorf("unknown event %s", ev.Kind)
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if !c.machine.Running() {
		return "", ErrNotRunning
	}
	c.logger.Debug("event received", "event", ev.Kind.String(), "state", c.machine.State())
	return handle(ev)
}

// goDispatch delivers ev from a new goroutine so collaborator callbacks never wait on dispatch.
func (c *Coordinator) goDispatch(ev Event) {
	c.background(func() {
		if _, err := c.Dispatch(ev); err != nil {
			c.logger.Debug("event dropped", "event", ev.Kind.String(), "error", err.Error())
		}
	})
}

// background runs fn on a tracked goroutine. It reports false once shutdown has begun.
func (c *Coordinator) background(fn func()) bool {
	c.bgMu.Lock()
	if c.closing {
		c.bgMu.Unlock()
		return false
	}
	c.bg.Add(1)
	c.bgMu.Unlock()

	go func() {
		defer c.bg.Done()
		fn()
	}()
	return true
}

// returnToSleep schedules a transition to sleeping that only applies while the state entry
// numbered generation is still current.
func (c *Coordinator) returnToSleep(after time.Duration, generation uint64, reason string) {
	c.timers.After(after, func() {
		ev := Event{Kind: EventReturnToSleep, Generation: generation, Reason: reason}
		if _, err := c.Dispatch(ev); err != nil {
			c.logger.Debug("scheduled sleep skipped", "reason", reason, "error", err.Error())
		}
	})
}

func (c *Coordinator) reject(ev Event, why string) error {
	return &RejectedError{Event: ev, State: c.machine.State(), Why: why}
}

func (c *Coordinator) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.StoreTimeout)
}

// Event handlers. They run under dispatchMu.

func (c *Coordinator) handleWakeWord(ev Event) (string, error) {
	if c.machine.State() != fsm.StateSleeping {
		return "", c.reject(ev, "already awake")
	}
	c.machine.TransitionTo(fsm.StateListening, fsm.Context{})
	return "listening", nil
}

func (c *Coordinator) handleListenTimeout(ev Event) (string, error) {
	if c.machine.State() != fsm.StateListening || ev.Generation != c.generation.Load() {
		return "", c.reject(ev, "stale listen timeout")
	}
	c.logger.Info("listening timed out")
	c.machine.TransitionTo(fsm.StateSleeping, fsm.Context{})
	return "sleeping", nil
}

func (c *Coordinator) handleReturnToSleep(ev Event) (string, error) {
	if ev.Generation != c.generation.Load() {
		return "", c.reject(ev, "stale return to sleep")
	}
	c.logger.Debug("returning to sleep", "reason", ev.Reason)
	c.machine.TransitionTo(fsm.StateSleeping, fsm.Context{})
	return "sleeping", nil
}

func (c *Coordinator) handleCommand(ev Event) (string, error) {
	run, ok := c.commands[ev.Command.Kind]
	if !ok {
		return "", c.reject(ev, "unrecognized command")
	}
	if ev.Generation != 0 && (ev.Generation != c.generation.Load() || c.machine.State() != fsm.StateListening) {
		return "", c.reject(ev, "listening period ended")
	}
	return run(ev.Command)
}

func (c *Coordinator) handleRecordingFinished(ev Event) (string, error) {
	c.mu.Lock()
	rec := c.recording
	if rec == nil || rec.id != ev.Session {
		c.mu.Unlock()
		return "", c.reject(ev, "stale recording session")
	}
	c.recording = nil
	c.mu.Unlock()

	if c.machine.State() != fsm.StateRecording {
		c.discard(rec)
		return "", c.reject(ev, "not recording")
	}
	if !c.files.Exists(rec.path) {
		c.logger.Warn("recording produced no file", "session", rec.id, "path", rec.path)
		c.machine.TransitionTo(fsm.StateSleeping, fsm.Context{})
		return "nothing recorded", nil
	}

	ctx := fsm.MemberContext(rec.member).
		With(KeySession, rec.id).
		With(KeyFilename, rec.filename).
		With(KeyFilePath, rec.path)
	c.machine.TransitionTo(fsm.StateProcessing, ctx)
	return "processing", nil
}

func (c *Coordinator) handleUtteranceFinished(ev Event) (string, error) {
	c.mu.Lock()
	utt := c.utterance
	if utt == nil || utt.id != ev.Session {
		c.mu.Unlock()
		return "", c.reject(ev, "stale utterance")
	}
	c.utterance = nil
	c.mu.Unlock()

	if c.machine.State() != fsm.StateListening || !c.files.Exists(utt.path) {
		c.discard(utt)
		return "", c.reject(ev, "utterance no longer wanted")
	}

	c.background(func() { c.runUtterance(utt) })
	return "interpreting", nil
}

// Commands.

func (c *Coordinator) commandRecord(cmd command.Command) (string, error) {
	ev := Command(cmd)
	member := normalizeMember(cmd.Member)
	if state := c.machine.State(); state != fsm.StateListening && state != fsm.StateSleeping {
		return "", c.reject(ev, "busy")
	}
	if member == "" {
		return "", c.reject(ev, "no family member named")
	}
	if !c.knownMember(member) {
		return "", c.reject(ev, fmt.Sprintf("unknown family member %q", member))
	}
	c.machine.TransitionTo(fsm.StateRecording, fsm.MemberContext(member))
	return "recording message for " + member, nil
}

func (c *Coordinator) commandPlay(cmd command.Command) (string, error) {
	ev := Command(cmd)
	member := normalizeMember(cmd.Member)
	if state := c.machine.State(); state != fsm.StateListening && state != fsm.StateSleeping {
		return "", c.reject(ev, "busy")
	}
	if member != "" && !c.knownMember(member) {
		return "", c.reject(ev, fmt.Sprintf("unknown family member %q", member))
	}
	c.machine.TransitionTo(fsm.StatePlaying, fsm.MemberContext(member))
	if member == "" {
		return "playing most recent message", nil
	}
	return "playing messages for " + member, nil
}

func (c *Coordinator) commandStop(command.Command) (string, error) {
	c.endSessions()
	c.machine.TransitionTo(fsm.StateSleeping, fsm.Context{})
	return "stopped", nil
}

func (c *Coordinator) commandFinish(cmd command.Command) (string, error) {
	if c.machine.State() != fsm.StateRecording {
		return "", c.reject(Command(cmd), "not recording")
	}
	c.mu.Lock()
	active := c.recording != nil
	c.mu.Unlock()
	if !active {
		return "", c.reject(Command(cmd), "no active recording")
	}
	c.recorder.Stop()
	return "finishing recording", nil
}

func (c *Coordinator) commandList(command.Command) (string, error) {
	ctx, cancel := c.storeContext()
	defer cancel()
	counts, err := c.store.MemberCounts(ctx)
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "no messages", nil
	}
	parts := make([]string, 0, len(counts))
	for _, mc := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", mc.Member, mc.Count))
	}
	return strings.Join(parts, " "), nil
}

func (c *Coordinator) commandHelp(command.Command) (string, error) {
	return command.HelpText(), nil
}

// State callbacks. They run under the machine's transition lock and must not dispatch.

func (c *Coordinator) countEntry(fsm.Context) error {
	c.generation.Add(1)
	return nil
}

func (c *Coordinator) enterSleeping(fsm.Context) error {
	c.endSessions()
	c.leds.SetIdleMode()
	return nil
}

func (c *Coordinator) enterListening(fsm.Context) error {
	c.leds.SetListeningMode()

	generation := c.generation.Load()
	handle := c.timers.After(c.opts.ListenTimeout, func() {
		ev := Event{Kind: EventListenTimeout, Generation: generation}
		if _, err := c.Dispatch(ev); err != nil {
			c.logger.Debug("listen timeout skipped", "error", err.Error())
		}
	})
	c.mu.Lock()
	c.listenTimer = handle
	c.mu.Unlock()

	if c.opts.VoiceCommands {
		c.startUtterance()
	}
	return nil
}

func (c *Coordinator) leaveListening(_, _ fsm.State, _ fsm.Context) error {
	c.mu.Lock()
	handle := c.listenTimer
	c.listenTimer = 0
	utt := c.utterance
	c.utterance = nil
	c.mu.Unlock()

	if handle != 0 {
		c.timers.Cancel(handle)
	}
	if utt != nil {
		c.recorder.Stop()
		c.discard(utt)
	}
	return nil
}

func (c *Coordinator) enterRecording(ctx fsm.Context) error {
	member := ctx.Member()
	generation := c.generation.Load()
	c.leds.SetRecordingMode()

	name := c.files.GenerateFilename(member)
	rec := &capture{id: uuid.NewString(), member: member, filename: name, path: c.files.Path(name)}
	c.mu.Lock()
	c.recording = rec
	c.mu.Unlock()

	finished := func() { c.goDispatch(Event{Kind: EventRecordingFinished, Session: rec.id}) }
	if !c.recorder.Start(rec.path, finished) {
		c.mu.Lock()
		if c.recording == rec {
			c.recording = nil
		}
		c.mu.Unlock()
		c.returnToSleep(0, generation, "recorder_start_failed")
		return fmt.Errorf("recorder refused to start for %s", rec.path)
	}
	c.logger.Info("recording session started", "session", rec.id, "member", member, "path", rec.path)
	return nil
}

// saveRecording persists the finished recording, requests its transcription and schedules the
// return to sleeping.
func (c *Coordinator) saveRecording(_, _ fsm.State, ctx fsm.Context) error {
	// Runs before processing is entered, so the entry about to happen is the next generation.
	generation := c.generation.Load() + 1
	defer c.returnToSleep(c.opts.ProcessingDelay, generation, "processed")

	member := ctx.Member()
	filename, _ := ctx.Get(KeyFilename)
	path, _ := ctx.Get(KeyFilePath)

	var duration *float64
	if seconds, ok := c.files.Duration(path); ok {
		duration = &seconds
	}

	storeCtx, cancel := c.storeContext()
	defer cancel()
	id, err := c.store.AddMessage(storeCtx, member, filename, path, duration)
	if err != nil {
		return fmt.Errorf("save message %s: %w", path, err)
	}
	c.logger.Info("message saved", "id", id, "member", member, "path", path)

	c.background(func() { c.transcribeMessage(id, path) })
	return nil
}

func (c *Coordinator) enterProcessing(fsm.Context) error {
	c.leds.SetListeningMode()
	return nil
}

func (c *Coordinator) enterPlaying(ctx fsm.Context) error {
	generation := c.generation.Load()
	member := ctx.Member()
	if member != "" {
		c.leds.IlluminateMember(member, led.Green)
	} else {
		c.leds.SetListeningMode()
	}

	paths, err := c.playlist(member)
	if err != nil {
		c.returnToSleep(0, generation, "playlist_failed")
		return err
	}
	c.logger.Info("playback session started", "member", member, "messages", len(paths))

	seq := NewSequence(c.player, c.files.Exists, paths, func(played int) {
		c.logger.Info("playback session finished", "member", member, "played", played)
		c.returnToSleep(0, generation, "playback_done")
	}, c.logger)

	c.mu.Lock()
	c.sequence = seq
	c.mu.Unlock()
	seq.Start()
	return nil
}

// playlist returns up to PlaybackLimit of member's messages, or the most recent message of the
// last RecentDays when member is empty.
func (c *Coordinator) playlist(member string) ([]string, error) {
	ctx, cancel := c.storeContext()
	defer cancel()

	if member != "" {
		messages, err := c.store.MessagesForMember(ctx, member, c.opts.PlaybackLimit)
		if err != nil {
			return nil, fmt.Errorf("list messages for %s: %w", member, err)
		}
		paths := make([]string, 0, len(messages))
		for _, msg := range messages {
			paths = append(paths, msg.FilePath)
		}
		return paths, nil
	}

	messages, err := c.store.RecentMessages(ctx, c.opts.RecentDays)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return []string{messages[0].FilePath}, nil
}

// Sessions.

// endSessions cancels playback and discards any capture in progress.
func (c *Coordinator) endSessions() {
	c.mu.Lock()
	rec, utt, seq := c.recording, c.utterance, c.sequence
	c.recording, c.utterance, c.sequence = nil, nil, nil
	c.mu.Unlock()

	if seq != nil {
		seq.Cancel()
	}
	c.player.Stop()
	if rec != nil || utt != nil || c.recorder.IsRecording() {
		c.recorder.Stop()
	}
	for _, cp := range []*capture{rec, utt} {
		if cp != nil {
			c.logger.Info("capture discarded", "session", cp.id, "path", cp.path)
			c.discard(cp)
		}
	}
}

func (c *Coordinator) discard(cp *capture) {
	if err := c.files.Remove(cp.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove discarded capture failed", "path", cp.path, "error", err.Error())
	}
}

func (c *Coordinator) startUtterance() {
	utt := &capture{id: uuid.NewString(), generation: c.generation.Load()}
	utt.path = c.files.Path(".utterance-" + utt.id + ".wav")

	c.mu.Lock()
	c.utterance = utt
	c.mu.Unlock()

	finished := func() { c.goDispatch(Event{Kind: EventUtteranceFinished, Session: utt.id}) }
	if !c.recorder.Start(utt.path, finished) {
		c.mu.Lock()
		if c.utterance == utt {
			c.utterance = nil
		}
		c.mu.Unlock()
		c.logger.Warn("voice command capture unavailable")
	}
}

// runUtterance transcribes a captured utterance and dispatches the command it contains.
func (c *Coordinator) runUtterance(utt *capture) {
	text, ok := c.transcriber.Transcribe(context.Background(), utt.path)
	c.discard(utt)
	if !ok {
		c.logger.Info("voice command not understood")
		return
	}

	cmd := c.classifier.Classify(text)
	c.logger.Info("voice command", "text", cmd.Text, "kind", string(cmd.Kind), "member", cmd.Member)
	if cmd.Kind == command.KindUnknown {
		return
	}
	ev := Command(cmd)
	ev.Generation = utt.generation
	if _, err := c.Dispatch(ev); err != nil {
		c.logger.Warn("voice command rejected", "kind", string(cmd.Kind), "error", err.Error())
	}
}

func (c *Coordinator) transcribeMessage(id int64, path string) {
	text, ok := c.transcriber.Transcribe(context.Background(), path)
	if !ok {
		c.logger.Info("message kept without transcription", "id", id)
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()
	if err := c.store.UpdateTranscription(ctx, id, text); err != nil {
		c.logger.Error("store transcription failed", "id", id, "error", err.Error())
		return
	}
	c.logger.Info("message transcribed", "id", id, "chars", len(text))
}

func (c *Coordinator) knownMember(member string) bool {
	if len(c.classifier.Members()) == 0 {
		return true
	}
	return c.classifier.IsMember(member)
}

func normalizeMember(member string) string {
	return strings.ToUpper(strings.TrimSpace(member))
}
