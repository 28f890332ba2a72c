package led

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// idlePalette is cycled once per full pass over the members.
var idlePalette = []Color{
	{R: 255, G: 100, B: 100},
	{R: 100, G: 255, B: 100},
	{R: 100, G: 100, B: 255},
	{R: 255, G: 255, B: 100},
	{R: 255, G: 100, B: 255},
	{R: 100, G: 255, B: 255},
}

// Member maps one household member onto a pixel span.
type Member struct {
	Name  string
	Range Range
}

// Options tunes animation timing.
type Options struct {
	// CycleStep is how long each member stays lit in idle mode.
	CycleStep time.Duration
	// PulseFrame is the delay between listening-pulse brightness steps.
	PulseFrame time.Duration
	Cues       *Cues
	Logger     *slog.Logger
}

// Controller runs at most one animation at a time on a Strip. Every method is fire-and-forget.
type Controller struct {
	strip   Strip
	members []Member
	ranges  map[string]Range
	opts    Options
	logger  *slog.Logger

	stripMu sync.Mutex

	animMu sync.Mutex
	anim   *animation
}

type animation struct {
	name string
	stop chan struct{}
	done chan struct{}
}

// NewController builds a controller. Member names are matched case-insensitively.
func NewController(strip Strip, members []Member, opts Options) *Controller {
	if opts.CycleStep <= 0 {
		opts.CycleStep = 2 * time.Second
	}
	if opts.PulseFrame <= 0 {
		opts.PulseFrame = 20 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Controller{
		strip:  strip,
		ranges: make(map[string]Range, len(members)),
		opts:   opts,
		logger: logger,
	}
	for _, m := range members {
		name := strings.ToUpper(strings.TrimSpace(m.Name))
		if name == "" {
			continue
		}
		c.members = append(c.members, Member{Name: name, Range: m.Range})
		c.ranges[name] = m.Range
	}
	return c
}

// SetIdleMode cycles through member ranges.
func (c *Controller) SetIdleMode() {
	c.startAnimation("idle", c.runIdle)
}

// SetListeningMode pulses the whole strip blue and plays the listening cue.
func (c *Controller) SetListeningMode() {
	c.startAnimation("listening", c.runPulse)
	c.opts.Cues.Play(CueListening)
}

// SetRecordingMode lights the whole strip red and plays the recording cue.
func (c *Controller) SetRecordingMode() {
	c.StopAnimation()
	c.fill(Range{Start: 0, End: c.strip.Len()}, Red, true)
	c.opts.Cues.Play(CueRecording)
	c.logger.Debug("led recording mode")
}

// IlluminateMember clears the strip and lights one member's span. Unknown members are ignored.
func (c *Controller) IlluminateMember(member string, color Color) {
	name := strings.ToUpper(strings.TrimSpace(member))
	r, ok := c.ranges[name]
	if !ok {
		c.logger.Debug("led member unknown", "member", name)
		return
	}
	c.StopAnimation()
	c.fill(r, color, true)
	c.logger.Debug("led member illuminated", "member", name, "color", color.String())
}

// StopAnimation halts the running animation and waits for its goroutine to exit.
func (c *Controller) StopAnimation() {
	c.swapAnimation("", nil)
}

// ClearAll stops any animation and turns every pixel off.
func (c *Controller) ClearAll() {
	c.StopAnimation()
	c.fill(Range{}, Off, true)
}

// Animation names the running animation, or "" when none runs.
func (c *Controller) Animation() string {
	c.animMu.Lock()
	defer c.animMu.Unlock()
	if c.anim == nil {
		return ""
	}
	return c.anim.name
}

func (c *Controller) startAnimation(name string, run func(stop <-chan struct{})) {
	c.swapAnimation(name, run)
	c.logger.Debug("led animation started", "animation", name)
}

// swapAnimation stops the current animation and, when run is set, starts the next one.
func (c *Controller) swapAnimation(name string, run func(stop <-chan struct{})) {
	c.animMu.Lock()
	defer c.animMu.Unlock()

	if c.anim != nil {
		close(c.anim.stop)
		<-c.anim.done
		c.anim = nil
	}
	if run == nil {
		return
	}

	anim := &animation{name: name, stop: make(chan struct{}), done: make(chan struct{})}
	c.anim = anim
	go func() {
		defer close(anim.done)
		run(anim.stop)
	}()
}

func (c *Controller) runIdle(stop <-chan struct{}) {
	if len(c.members) == 0 {
		return
	}
	member, color := 0, 0
	for {
		c.fill(c.members[member].Range, idlePalette[color], true)

		member = (member + 1) % len(c.members)
		if member == 0 {
			color = (color + 1) % len(idlePalette)
		}
		if !sleep(stop, c.opts.CycleStep) {
			return
		}
	}
}

func (c *Controller) runPulse(stop <-chan struct{}) {
	all := Range{Start: 0, End: c.strip.Len()}
	for {
		for level := 0; level <= 255; level += 5 {
			c.fill(all, Color{B: uint8(level)}, false)
			if !sleep(stop, c.opts.PulseFrame) {
				return
			}
		}
		for level := 255; level >= 0; level -= 5 {
			c.fill(all, Color{B: uint8(level)}, false)
			if !sleep(stop, c.opts.PulseFrame) {
				return
			}
		}
	}
}

// fill sets r to color. With exclusive set, pixels outside r are turned off.
func (c *Controller) fill(r Range, color Color, exclusive bool) {
	c.stripMu.Lock()
	defer c.stripMu.Unlock()

	n := c.strip.Len()
	start, end := clamp(r.Start, 0, n), clamp(r.End, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= start && i < end:
			c.strip.SetPixel(i, color)
		case exclusive:
			c.strip.SetPixel(i, Off)
		}
	}
	if err := c.strip.Show(); err != nil {
		c.logger.Warn("led show failed", "error", err.Error())
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sleep waits d and reports false when stop closed first.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
