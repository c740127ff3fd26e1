package messaging

import "context"

// OutboundMessage is everything a transport needs to hand a message to its
// provider. To is a phone number for SMS and an email address for email;
// From is the property's provider-side address.
type OutboundMessage struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Transport delivers outbound messages on one channel. Send returns the
// provider's message ID on accept. Failures are classified with Transient or
// Permanent so the dispatcher and retry worker can tell them apart.
type Transport interface {
	Channel() Channel
	Send(ctx context.Context, msg OutboundMessage) (providerMsgID string, err error)
}
