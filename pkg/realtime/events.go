package realtime

import "github.com/MrWong99/voxlink/pkg/audio"

// Inbound event types.
const (
	EventSessionCreated           = "session.created"
	EventSessionUpdated           = "session.updated"
	EventItemCreated              = "conversation.item.created"
	EventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseCreated          = "response.created"
	EventOutputItemAdded          = "response.output_item.added"
	EventOutputItemDone           = "response.output_item.done"
	EventAudioDelta               = "response.audio.delta"
	EventAudioDone                = "response.audio.done"
	EventTextDelta                = "response.text.delta"
	EventAudioTranscriptDelta     = "response.audio_transcript.delta"
	EventAudioTranscriptDone      = "response.audio_transcript.done"
	EventResponseDone             = "response.done"
	EventResponseCompleted        = "response.completed"
	EventOutputAudioStarted       = "output_audio_buffer.started"
	EventOutputAudioStopped       = "output_audio_buffer.stopped"
	EventSpeechStarted            = "input_audio_buffer.speech_started"
	EventSpeechStopped            = "input_audio_buffer.speech_stopped"
	EventInputCommitted           = "input_audio_buffer.committed"
	EventError                    = "error"

	// EventTransportClosed is emitted by transports when the underlying
	// connection goes away. It never appears on the wire.
	EventTransportClosed = "transport.closed"

	// EventAny subscribes a handler to every inbound event.
	EventAny = "*"
)

// Outbound event types.
const (
	TypeItemCreate     = "conversation.item.create"
	TypeResponseCreate = "response.create"
	TypeResponseCancel = "response.cancel"
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeAudioCommit    = "input_audio_buffer.commit"
	TypeAudioClear     = "input_audio_buffer.clear"
)

// ServerEvent is one inbound protocol message. Only the fields relevant to
// its Type are populated.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// conversation.item.created, response.output_item.*
	Item *Item `json:"item,omitempty"`

	// response.created, response.done
	Response *Response `json:"response,omitempty"`

	// response.audio.*, response.text.*, response.audio_transcript.*
	ResponseID   string `json:"response_id,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
	OutputIndex  int    `json:"output_index,omitempty"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	Text         string `json:"text,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// ResponseRef returns the response id the event belongs to, if any.
func (e ServerEvent) ResponseRef() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ID
	}
	return ""
}

// Response describes a model response in response.created / response.done.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output,omitempty"`
}

// ErrorDetail is the payload of an inbound error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ── Outbound ─────────────────────────────────────────────────────────────────

// Event is an outbound protocol message.
type Event interface {
	EventType() string
}

// ItemCreate appends an item to the remote conversation.
type ItemCreate struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Item    Item   `json:"item"`
}

func (e ItemCreate) EventType() string { return e.Type }

// NewUserText returns a conversation.item.create for a user text message.
func NewUserText(text string) ItemCreate {
	return newTextItem(RoleUser, text)
}

// NewSystemText returns a conversation.item.create for a system message.
func NewSystemText(text string) ItemCreate {
	return newTextItem(RoleSystem, text)
}

func newTextItem(role Role, text string) ItemCreate {
	return ItemCreate{
		Type: TypeItemCreate,
		Item: Item{
			Type:    "message",
			Role:    role,
			Content: []ContentPart{{Type: PartInputText, Text: text}},
		},
	}
}

// ResponseParams configures a response.create request.
type ResponseParams struct {
	Modalities        []string `json:"modalities,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
}

// ResponseCreate asks the remote side to generate a response.
type ResponseCreate struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id,omitempty"`
	Response ResponseParams `json:"response"`
}

func (e ResponseCreate) EventType() string { return e.Type }

// NewResponseCreate requests an audio+text response in pcm16 unless p
// overrides modalities or format.
func NewResponseCreate(p ResponseParams) ResponseCreate {
	if len(p.Modalities) == 0 {
		p.Modalities = []string{"audio", "text"}
	}
	if p.OutputAudioFormat == "" {
		p.OutputAudioFormat = "pcm16"
	}
	return ResponseCreate{Type: TypeResponseCreate, Response: p}
}

// ResponseCancel cancels the in-flight response.
type ResponseCancel struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

func (e ResponseCancel) EventType() string { return e.Type }

// NewResponseCancel cancels whichever response is active.
func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel}
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
}

// Transcription enables input audio transcription.
type Transcription struct {
	Model string `json:"model"`
}

// SessionParams is the body of a session.update.
type SessionParams struct {
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	Modalities              []string       `json:"modalities,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
}

// SessionUpdate reconfigures the live session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

func (e SessionUpdate) EventType() string { return e.Type }

// NewSessionUpdate wraps p in a session.update.
func NewSessionUpdate(p SessionParams) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: p}
}

// AudioAppend streams a chunk of microphone audio.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func (e AudioAppend) EventType() string { return e.Type }

// NewAudioAppend encodes samples as base64 PCM16.
func NewAudioAppend(samples []int16) AudioAppend {
	return AudioAppend{Type: TypeAudioAppend, Audio: audio.EncodeBase64PCM16(samples)}
}

// Control is a payload-free outbound event such as input_audio_buffer.commit.
type Control struct {
	Type string `json:"type"`
}

func (e Control) EventType() string { return e.Type }

// Bool returns a pointer to b, for optional protocol flags.
func Bool(b bool) *bool { return &b }
