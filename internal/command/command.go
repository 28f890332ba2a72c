// Package command classifies spoken or typed text into appliance commands.
package command

import (
	"strings"
	"unicode"
)

// Kind is the classified intent of one utterance.
type Kind string

const (
	KindRecord  Kind = "record"
	KindPlay    Kind = "play"
	KindStop    Kind = "stop"
	KindFinish  Kind = "finish"
	KindList    Kind = "list"
	KindHelp    Kind = "help"
	KindUnknown Kind = "unknown"
)

// Command is one classified utterance.
type Command struct {
	Kind   Kind
	Member string
	// Text is the normalized utterance with any wake-word prefix removed.
	Text string
}

// Classifier maps utterances onto commands using phrase tables and the household member list.
type Classifier struct {
	wakeWords []string
	members   []string
}

var (
	recordPhrases = []string{"remember this", "record this", "save this", "remember", "record"}
	playPhrases   = []string{"listen to", "play", "hear"}
	finishPhrases = []string{"that's all", "thats all", "send it", "done", "finished"}
	stopPhrases   = []string{"stop", "enough", "cancel", "quit"}
	listPhrases   = []string{"what do you have", "list", "show"}
	helpPhrases   = []string{"what can you do", "commands", "help"}
)

// DefaultWakeWords are stripped from the start of an utterance, longest first.
var DefaultWakeWords = []string{"muninn", "munin"}

// NewClassifier builds a classifier. Member names are matched case-insensitively and returned
// upper-cased.
func NewClassifier(members []string, wakeWords ...string) *Classifier {
	if len(wakeWords) == 0 {
		wakeWords = DefaultWakeWords
	}
	c := &Classifier{}
	for _, w := range wakeWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			c.wakeWords = append(c.wakeWords, w)
		}
	}
	for _, m := range members {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			c.members = append(c.members, m)
		}
	}
	return c
}

// Members returns the configured member names.
func (c *Classifier) Members() []string {
	return append([]string(nil), c.members...)
}

// Classify maps text onto a command. Record and play carry the first member named in the text.
func (c *Classifier) Classify(text string) Command {
	normalized := c.stripWakeWord(normalize(text))
	words := strings.Fields(normalized)
	cmd := Command{Kind: KindUnknown, Text: normalized}

	switch {
	case containsAny(words, recordPhrases):
		cmd.Kind = KindRecord
		cmd.Member = c.findMember(words)
	case containsAny(words, playPhrases):
		cmd.Kind = KindPlay
		cmd.Member = c.findMember(words)
	case containsAny(words, finishPhrases):
		cmd.Kind = KindFinish
	case containsAny(words, stopPhrases):
		cmd.Kind = KindStop
	case containsAny(words, listPhrases):
		cmd.Kind = KindList
	case containsAny(words, helpPhrases):
		cmd.Kind = KindHelp
	}
	return cmd
}

// IsMember reports whether name matches a configured member.
func (c *Classifier) IsMember(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, m := range c.members {
		if m == name {
			return true
		}
	}
	return false
}

func (c *Classifier) stripWakeWord(text string) string {
	for _, w := range c.wakeWords {
		if text == w {
			return ""
		}
		if strings.HasPrefix(text, w+" ") {
			return strings.TrimSpace(text[len(w):])
		}
	}
	return text
}

// findMember matches plain, possessive ("carrie's") and plural ("carries") forms.
func (c *Classifier) findMember(words []string) string {
	for _, m := range c.members {
		lower := strings.ToLower(m)
		for _, w := range words {
			if w == lower || w == lower+"'s" || w == lower+"s" {
				return m
			}
		}
	}
	return ""
}

// normalize lowercases text, keeps apostrophes inside words, and collapses everything else that
// is not a letter or digit into single spaces.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			b.WriteByte('\'')
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsAny reports whether any phrase occurs in words on word boundaries.
func containsAny(words []string, phrases []string) bool {
	for _, phrase := range phrases {
		if containsPhrase(words, strings.Fields(phrase)) {
			return true
		}
	}
	return false
}

func containsPhrase(words []string, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j := range phrase {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// HelpText lists the spoken commands.
func HelpText() string {
	return `Muninn voice commands:
  "Muninn, remember this for <name>"  record a message
  "Muninn, play <name>'s messages"    play a member's messages
  "Muninn, play messages"             play the most recent message
  "Muninn, done"                      finish the current recording
  "Muninn, stop"                      stop the current operation
  "Muninn, list"                      show message counts`
}
