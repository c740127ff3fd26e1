// Package suggest talks to the reply-suggestion service and decides what to
// do with what it says.
package suggest

import (
	"errors"
	"fmt"

	"github.com/stayloop/guestops/internal/messaging"
)

// ErrUnavailable means no usable suggestion exists for a message: the
// service had nothing, returned garbage, or is down. Callers escalate.
var ErrUnavailable = errors.New("suggest: no usable suggestion")

// Suggestion is the reply-suggestion service's verdict on one inbound
// message.
type Suggestion struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	NeedsHuman   bool              `json:"needs_human"`
	AutoReplyOK  bool              `json:"auto_reply_ok"`
	ReplyChannel messaging.Channel `json:"reply_channel"`
	ReplyText    string            `json:"reply_text"`
	ReplySubject string            `json:"reply_subject,omitempty"`
}

// Validate rejects suggestions the gate cannot act on.
func (s Suggestion) Validate() error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrUnavailable, s.Confidence)
	}
	if s.AutoReplyOK {
		if s.ReplyText == "" {
			return fmt.Errorf("%w: auto-reply suggested with empty text", ErrUnavailable)
		}
		if !s.ReplyChannel.Valid() {
			return fmt.Errorf("%w: bad reply channel %q", ErrUnavailable, s.ReplyChannel)
		}
	}
	return nil
}
