package realtime

import "strings"

// Role of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Content part types.
const (
	PartInputText  = "input_text"
	PartText       = "text"
	PartAudio      = "audio"
	PartInputAudio = "input_audio"
)

// ContentPart is one piece of an item's content. Audio parts are markers; the
// audio itself travels in delta events and only the transcript is retained.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Audio      string `json:"audio,omitempty"`
}

// Item is one message in the conversation history. Identity is by ID; items
// created locally have no ID until the remote side echoes one.
type Item struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type,omitempty"`
	Role    Role          `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// Text returns the concatenated text and transcripts of all parts.
func (it Item) Text() string {
	var b strings.Builder
	for _, p := range it.Content {
		switch {
		case p.Text != "":
			b.WriteString(p.Text)
		case p.Transcript != "":
			b.WriteString(p.Transcript)
		}
	}
	return b.String()
}

// HasAudio reports whether any part is audio.
func (it Item) HasAudio() bool {
	for _, p := range it.Content {
		if p.Type == PartAudio || p.Type == PartInputAudio {
			return true
		}
	}
	return false
}

// HasContent reports whether the item carries non-empty text or audio.
func (it Item) HasContent() bool {
	return strings.TrimSpace(it.Text()) != "" || it.HasAudio()
}

// Normalize is the text-correlation key: surrounding whitespace is trimmed
// and nothing else.
func Normalize(s string) string {
	return strings.TrimSpace(s)
}

// HistoryView is an optional read-only view of the conversation history,
// oldest item first.
type HistoryView interface {
	Items() []Item
}
