package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/stayloop/guestops/pkg/logging"
)

// sesClient is the slice of the SESv2 API the transport uses, so tests can
// substitute a stub.
type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESEmail sends email through Amazon SESv2.
type SESEmail struct {
	client sesClient
	logger *logging.Logger
}

// NewSESEmail creates the SES transport.
func NewSESEmail(client *sesv2.Client, logger *logging.Logger) *SESEmail {
	if logger == nil {
		logger = logging.Default()
	}
	return &SESEmail{client: client, logger: logger}
}

// Channel implements Transport.
func (s *SESEmail) Channel() Channel { return ChannelEmail }

// Send implements Transport. SES rejects bad recipients synchronously, which
// is permanent; everything else from the SDK is treated as transient since
// throttling and endpoint errors dominate in practice.
func (s *SESEmail) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		var badReq *types.BadRequestException
		var notFound *types.NotFoundException
		if errors.As(err, &badReq) || errors.As(err, &notFound) {
			return "", Permanent(fmt.Errorf("ses: send: %w", err))
		}
		return "", Transient(fmt.Errorf("ses: send: %w", err))
	}
	providerID := aws.ToString(out.MessageId)
	s.logger.Debug("ses accepted message", "provider_msg_id", providerID, "to", msg.To)
	return providerID, nil
}
