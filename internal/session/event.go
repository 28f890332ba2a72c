package session

import (
	"fmt"

	"github.com/rbright/muninn/internal/command"
	"github.com/rbright/muninn/internal/fsm"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventWakeWord is a wake-word detection.
	EventWakeWord EventKind = iota + 1
	// EventListenTimeout fires when listening ends without a command.
	EventListenTimeout
	// EventCommand carries a classified command.
	EventCommand
	// EventRecordingFinished is the recorder's finished signal for a message session.
	EventRecordingFinished
	// EventUtteranceFinished is the recorder's finished signal for a voice-command capture.
	EventUtteranceFinished
	// EventReturnToSleep is a scheduled return to sleeping.
	EventReturnToSleep
)

func (k EventKind) String() string {
	switch k {
	case EventWakeWord:
		return "wake_word"
	case EventListenTimeout:
		return "listen_timeout"
	case EventCommand:
		return "command"
	case EventRecordingFinished:
		return "recording_finished"
	case EventUtteranceFinished:
		return "utterance_finished"
	case EventReturnToSleep:
		return "return_to_sleep"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one input to the coordinator. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind

	// Command is set for EventCommand.
	Command command.Command
	// Session identifies the capture for EventRecordingFinished and EventUtteranceFinished.
	Session string
	// Generation ties EventListenTimeout, EventReturnToSleep and spoken commands to the state
	// entry they belong to. Stale events are dropped. Zero means unbound.
	Generation uint64
	// Reason labels EventReturnToSleep in logs.
	Reason string
}

// WakeWord builds an EventWakeWord.
func WakeWord() Event {
	return Event{Kind: EventWakeWord}
}

// Command builds an EventCommand.
func Command(cmd command.Command) Event {
	return Event{Kind: EventCommand, Command: cmd}
}

// Record builds a record command for member.
func Record(member string) Event {
	return Command(command.Command{Kind: command.KindRecord, Member: member})
}

// Play builds a play command. An empty member plays the most recent message.
func Play(member string) Event {
	return Command(command.Command{Kind: command.KindPlay, Member: member})
}

// Stop builds a stop command.
func Stop() Event {
	return Command(command.Command{Kind: command.KindStop})
}

// Finish builds a finish command.
func Finish() Event {
	return Command(command.Command{Kind: command.KindFinish})
}

// RejectedError reports an event whose precondition did not hold.
type RejectedError struct {
	Event Event
	State fsm.State
	Why   string
}

func (e *RejectedError) Error() string {
	name := e.Event.Kind.String()
	if e.Event.Kind == EventCommand {
		name = string(e.Event.Command.Kind)
	}
	if e.Why != "" {
		return fmt.Sprintf("%s rejected in state %s: %s", name, e.State, e.Why)
	}
	return fmt.Sprintf("%s rejected in state %s", name, e.State)
}
