package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/muninn/internal/command"
	"github.com/rbright/muninn/internal/ipc"
)

// Handle serves control-socket requests by translating them into events.
func (c *Coordinator) Handle(_ context.Context, req ipc.Request) ipc.Response {
	var ev Event
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{
			OK:      true,
			State:   string(c.State()),
			Message: fmt.Sprintf("transitions=%d", c.machine.Transitions()),
		}
	case ipc.CommandWake:
		ev = WakeWord()
	case ipc.CommandSay:
		if strings.TrimSpace(req.Text) == "" {
			return c.failure("say needs text")
		}
		cmd := c.classifier.Classify(req.Text)
		if cmd.Kind == command.KindUnknown {
			return c.failure(fmt.Sprintf("could not understand %q", req.Text))
		}
		ev = Command(cmd)
	case ipc.CommandRecord:
		ev = Record(req.Member)
	case ipc.CommandPlay:
		ev = Play(req.Member)
	case ipc.CommandStop:
		ev = Stop()
	case ipc.CommandFinish:
		ev = Finish()
	case ipc.CommandList:
		ev = Command(command.Command{Kind: command.KindList})
	default:
		return c.failure(fmt.Sprintf("unknown command: %s", req.Command))
	}

	msg, err := c.Dispatch(ev)
	if err != nil {
		return c.failure(err.Error())
	}
	return ipc.Response{OK: true, State: string(c.State()), Message: msg}
}

func (c *Coordinator) failure(msg string) ipc.Response {
	return ipc.Response{OK: false, State: string(c.State()), Error: msg}
}
