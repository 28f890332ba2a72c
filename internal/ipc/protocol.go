// Package ipc is the local control channel between the muninn daemon and its CLI: one JSON
// request line and one JSON response line per unix-socket connection.
package ipc

// Commands understood by the daemon.
const (
	CommandStatus = "status"
	CommandWake   = "wake"
	CommandSay    = "say"
	CommandRecord = "record"
	CommandPlay   = "play"
	CommandStop   = "stop"
	CommandFinish = "finish"
	CommandList   = "list"
)

type Request struct {
	Command string `json:"command"`
	// Text carries the utterance for say.
	Text string `json:"text,omitempty"`
	// Member targets record and play.
	Member string `json:"member,omitempty"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
