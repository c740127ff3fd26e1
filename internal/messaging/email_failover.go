package messaging

import (
	"context"
	"fmt"

	"github.com/stayloop/guestops/pkg/logging"
)

// FailoverEmail tries a primary email transport and falls back to a
// secondary when the primary fails transiently. Permanent rejections are not
// failed over: a bad recipient is bad on every provider.
type FailoverEmail struct {
	primary   Transport
	secondary Transport
	logger    *logging.Logger
}

// NewFailoverEmail wraps two email transports.
func NewFailoverEmail(primary, secondary Transport, logger *logging.Logger) *FailoverEmail {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverEmail{primary: primary, secondary: secondary, logger: logger}
}

// Channel implements Transport.
func (f *FailoverEmail) Channel() Channel { return ChannelEmail }

// Send implements Transport.
func (f *FailoverEmail) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	id, err := f.primary.Send(ctx, msg)
	if err == nil {
		return id, nil
	}
	if IsPermanent(err) || f.secondary == nil {
		return "", err
	}

	f.logger.Warn("primary email transport failed, failing over", "error", err)
	id, err2 := f.secondary.Send(ctx, msg)
	if err2 != nil {
		return "", fmt.Errorf("both email transports failed: primary: %w; secondary: %v", err, err2)
	}
	return id, nil
}
