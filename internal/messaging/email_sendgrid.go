package messaging

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/stayloop/guestops/pkg/logging"
)

// SendGridEmail sends email through the SendGrid v3 mail API.
type SendGridEmail struct {
	client   *sendgrid.Client
	fromName string
	logger   *logging.Logger
}

// NewSendGridEmail creates the SendGrid transport.
func NewSendGridEmail(apiKey, fromName string, logger *logging.Logger) *SendGridEmail {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridEmail{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		logger:   logger,
	}
}

// Channel implements Transport.
func (s *SendGridEmail) Channel() Channel { return ChannelEmail }

// Send implements Transport. SendGrid does not return a provider message ID
// in the accept response body; the X-Message-Id header carries it.
func (s *SendGridEmail) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	from := mail.NewEmail(s.fromName, msg.From)
	to := mail.NewEmail("", msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return "", Transient(fmt.Errorf("sendgrid: send: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			return "", Transient(apiErr)
		}
		return "", Permanent(apiErr)
	}

	var providerID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		providerID = ids[0]
	}
	s.logger.Debug("sendgrid accepted message", "provider_msg_id", providerID, "to", msg.To)
	return providerID, nil
}
