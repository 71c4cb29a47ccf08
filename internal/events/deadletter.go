package events

import (
	"encoding/json"
	"time"
)

// DeadLetterSuffix is appended to the id of a quarantined message.
const DeadLetterSuffix = ".dlq"

// DeadLetterMessage is the quarantined copy of a change message. It keeps
// every original field and adds the capture context.
type DeadLetterMessage struct {
	DataChangeMessage
	OriginalMessageID string `json:"originalMessageId,omitempty"`
	// CapturedAt is when the message was quarantined, unix milliseconds.
	CapturedAt int64  `json:"capturedAt"`
	Retryable  bool   `json:"retryable"`
	Error      string `json:"error,omitempty"`
	// Raw holds the undecodable payload when no message could be parsed.
	Raw []byte `json:"raw,omitempty"`
}

// NewDeadLetter builds the dead-letter copy of msg.
func NewDeadLetter(msg *DataChangeMessage, cause error, retryable bool, now time.Time) *DeadLetterMessage {
	dl := &DeadLetterMessage{
		DataChangeMessage: *msg,
		OriginalMessageID: msg.MessageID,
		CapturedAt:        now.UnixMilli(),
		Retryable:         retryable,
	}
	dl.MessageID = msg.MessageID + DeadLetterSuffix
	if cause != nil {
		dl.Error = cause.Error()
	}
	return dl
}

// Encode serializes the dead letter as JSON.
func (d *DeadLetterMessage) Encode() ([]byte, error) {
	return json.Marshal(d)
}
