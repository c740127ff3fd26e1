package messaging

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// TelnyxWebhook is the envelope Telnyx posts for both inbound messages and
// delivery receipts.
type TelnyxWebhook struct {
	Data struct {
		EventType string        `json:"event_type"`
		Payload   TelnyxPayload `json:"payload"`
	} `json:"data"`
}

// TelnyxPayload is the message payload inside a Telnyx webhook.
type TelnyxPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
	ReceivedAt time.Time `json:"received_at"`
}

const (
	TelnyxEventReceived  = "message.received"
	TelnyxEventFinalized = "message.finalized"
)

// NormalizeSMSInbound converts a Telnyx message.received payload into the
// pipeline's inbound shape.
func NormalizeSMSInbound(p TelnyxPayload) (InboundMessage, error) {
	if p.ID == "" || p.From.PhoneNumber == "" || len(p.To) == 0 {
		return InboundMessage{}, fmt.Errorf("messaging: telnyx payload missing required fields")
	}
	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return InboundMessage{
		Channel:         ChannelSMS,
		ProviderMsgID:   p.ID,
		GuestAddress:    p.From.PhoneNumber,
		PropertyAddress: p.To[0].PhoneNumber,
		Body:            p.Text,
		ReceivedAt:      receivedAt,
	}, nil
}

// DeliveryStatusFromTelnyx maps a finalized receipt to a message status.
// Unrecognized provider statuses are ignored.
func DeliveryStatusFromTelnyx(p TelnyxPayload) (MessageStatus, bool) {
	if len(p.To) == 0 {
		return "", false
	}
	switch p.To[0].Status {
	case "delivered":
		return StatusDelivered, true
	case "sending_failed", "delivery_failed", "expired":
		return StatusFailed, true
	}
	return "", false
}

// EmailInboundForm is the parsed field set of an inbound-parse POST. The
// provider message ID comes from the Message-ID header when present.
type EmailInboundForm struct {
	From      string
	To        string
	Subject   string
	Text      string
	MessageID string
}

// NormalizeEmailInbound converts an inbound-parse form into the pipeline's
// inbound shape. Display names are stripped from the addresses.
func NormalizeEmailInbound(f EmailInboundForm) (InboundMessage, error) {
	from, err := parseAddress(f.From)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("messaging: parse from address: %w", err)
	}
	to, err := parseAddress(f.To)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("messaging: parse to address: %w", err)
	}
	providerID := strings.Trim(f.MessageID, "<>")
	if providerID == "" {
		return InboundMessage{}, fmt.Errorf("messaging: inbound email missing message id")
	}
	return InboundMessage{
		Channel:         ChannelEmail,
		ProviderMsgID:   providerID,
		GuestAddress:    from,
		PropertyAddress: to,
		Subject:         f.Subject,
		Body:            f.Text,
		ReceivedAt:      time.Now().UTC(),
	}, nil
}

func parseAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		// some senders omit angle brackets; take the raw string if it
		// looks like a bare address
		trimmed := strings.TrimSpace(raw)
		if strings.Count(trimmed, "@") == 1 && !strings.ContainsAny(trimmed, " <>") {
			return strings.ToLower(trimmed), nil
		}
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}
