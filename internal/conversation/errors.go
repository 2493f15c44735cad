package conversation

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

var (
	// ErrAckTimeout is logged when an item or reply acknowledgement did not
	// arrive in time. Turns continue optimistically; it is never returned.
	ErrAckTimeout = errors.New("conversation: acknowledgement timed out")

	// ErrVoiceDisabled is returned by operations that need voice while the
	// disable guard is engaged.
	ErrVoiceDisabled = errors.New("conversation: voice is disabled")

	// ErrClosed is returned after [Client.Close].
	ErrClosed = errors.New("conversation: client closed")

	// ErrEmptyText is returned for blank text turns.
	ErrEmptyText = errors.New("conversation: text is empty")
)

// benignCodes are remote error codes that only warrant a warning. They are
// side effects of races the client expects, such as cancelling a response
// that already finished.
var benignCodes = map[string]bool{
	"response_cancel_not_active":               true,
	"conversation_already_has_active_response": true,
	"input_audio_buffer_commit_empty":          true,
	"cancellation_failed":                      true,
}

// ProtocolError is an error event reported by the remote side.
type ProtocolError struct {
	Code    string
	Type    string
	Message string

	// Critical errors drive the state machine to error. Everything else is
	// logged and ignored.
	Critical bool
}

func (e *ProtocolError) Error() string {
	code := e.Code
	if code == "" {
		code = e.Type
	}
	return fmt.Sprintf("conversation: remote error %s: %s", code, e.Message)
}

// classify converts an inbound error payload. A missing payload is treated
// as critical.
func classify(d *realtime.ErrorDetail) *ProtocolError {
	if d == nil {
		return &ProtocolError{Type: "unknown", Message: "error event without payload", Critical: true}
	}
	return &ProtocolError{
		Code:     d.Code,
		Type:     d.Type,
		Message:  d.Message,
		Critical: !benignCodes[d.Code],
	}
}
