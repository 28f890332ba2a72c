// Package cli parses muninn command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandWake    Command = "wake"
	CommandSay     Command = "say"
	CommandRecord  Command = "record"
	CommandPlay    Command = "play"
	CommandStop    Command = "stop"
	CommandFinish  Command = "finish"
	CommandList    Command = "list"
	CommandHistory Command = "history"
	CommandShow    Command = "show"
	CommandSearch  Command = "search"
	CommandArchive Command = "archive"
	CommandDelete  Command = "delete"
	CommandSetting Command = "setting"
	CommandCleanup Command = "cleanup"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// argLimits holds the accepted positional argument range per command.
var argLimits = map[Command][2]int{
	CommandRun:     {0, 0},
	CommandStatus:  {0, 0},
	CommandWake:    {0, 0},
	CommandSay:     {1, -1},
	CommandRecord:  {1, 1},
	CommandPlay:    {0, 1},
	CommandStop:    {0, 0},
	CommandFinish:  {0, 0},
	CommandList:    {0, 0},
	CommandHistory: {0, 1},
	CommandShow:    {1, 1},
	CommandSearch:  {1, -1},
	CommandArchive: {1, 1},
	CommandDelete:  {1, 1},
	CommandSetting: {1, 2},
	CommandCleanup: {0, 0},
	CommandDevices: {0, 0},
	CommandDoctor:  {0, 0},
	CommandVersion: {0, 0},
	CommandHelp:    {0, 0},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

// Text joins positional arguments, as used by say and search.
func (p Parsed) Text() string {
	return strings.TrimSpace(strings.Join(p.Args, " "))
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			limits, ok := argLimits[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) < limits[0] {
				return Parsed{}, fmt.Errorf("command %q requires an argument", arg)
			}
			if limits[1] >= 0 && len(rest) > limits[1] {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}

			parsed.Command = cmd
			parsed.Args = append([]string(nil), rest...)
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  run           Run the appliance daemon
  status        Print the current device state
  wake          Simulate a wake word
  say TEXT...   Run a spoken-style command, e.g. "record a message for carrie"
  record NAME   Record a message for a family member
  play [NAME]   Play a member's messages, or the most recent message
  stop          Stop recording or playback and return to sleep
  finish        End the current recording and save it
  list          Print message counts per family member
  history [N]   Print the N most recent messages (default 20)
  show ID       Print one message
  search TEXT   Find messages whose transcription or tags contain TEXT
  archive ID    Hide a message from playback and listings
  delete ID     Delete a message and its audio file
  setting KEY [VALUE]
                Print or store a persisted setting
  cleanup       Delete audio files older than the retention period
  devices       List available input devices
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/muninn/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
