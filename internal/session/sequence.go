package session

import (
	"io"
	"log/slog"
	"sync"
)

// Sequence plays a list of files one after another. Each item starts only after the previous
// one's completion fired. Missing files are skipped; a player that refuses a file ends the
// sequence. onDone fires exactly once with the number of files started. Player.Play must not
// call its completion synchronously.
type Sequence struct {
	player Player
	exists func(string) bool
	paths  []string
	onDone func(played int)
	logger *slog.Logger

	mu        sync.Mutex
	next      int
	played    int
	cancelled bool
	finished  bool
}

// NewSequence builds an unstarted sequence over paths. A nil exists accepts every path.
func NewSequence(player Player, exists func(string) bool, paths []string, onDone func(played int), logger *slog.Logger) *Sequence {
	if exists == nil {
		exists = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sequence{
		player: player,
		exists: exists,
		paths:  append([]string(nil), paths...),
		onDone: onDone,
		logger: logger,
	}
}

// Start plays the first playable item. An empty sequence finishes immediately.
func (s *Sequence) Start() {
	s.advance()
}

// Cancel stops advancing and finishes the sequence. The caller stops the player.
func (s *Sequence) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.finish()
}

// Played returns the number of files started so far.
func (s *Sequence) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Done reports whether onDone has fired.
func (s *Sequence) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Sequence) advance() {
	for {
		s.mu.Lock()
		if s.cancelled || s.finished || s.next >= len(s.paths) {
			s.mu.Unlock()
			s.finish()
			return
		}
		index := s.next
		path := s.paths[index]
		s.next++
		s.mu.Unlock()

		if !s.exists(path) {
			s.logger.Warn("playback file missing; skipping", "path", path, "index", index)
			continue
		}

		// Play runs under mu so a Cancel followed by a player stop always sees it.
		s.mu.Lock()
		if s.cancelled || s.finished {
			s.mu.Unlock()
			s.finish()
			return
		}
		s.logger.Info("playing message", "path", path, "index", index, "total", len(s.paths))
		ok := s.player.Play(path, s.advance)
		if ok {
			s.played++
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Error("player refused file; ending playback", "path", path)
			s.finish()
		}
		return
	}
}

func (s *Sequence) finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	played := s.played
	s.mu.Unlock()

	if s.onDone != nil {
		s.onDone(played)
	}
}
