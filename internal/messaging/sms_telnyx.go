package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stayloop/guestops/pkg/logging"
)

const telnyxMessagesURL = "https://api.telnyx.com/v2/messages"

// TelnyxSMS sends SMS through the Telnyx V2 messages API.
type TelnyxSMS struct {
	apiKey             string
	messagingProfileID string
	httpClient         *http.Client
	logger             *logging.Logger
}

// NewTelnyxSMS creates the SMS transport.
func NewTelnyxSMS(apiKey, messagingProfileID string, logger *logging.Logger) *TelnyxSMS {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSMS{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		httpClient:         &http.Client{Timeout: 15 * time.Second},
		logger:             logger,
	}
}

// Channel implements Transport.
func (t *TelnyxSMS) Channel() Channel { return ChannelSMS }

type telnyxSendRequest struct {
	From               string `json:"from"`
	To                 string `json:"to"`
	Text               string `json:"text"`
	MessagingProfileID string `json:"messaging_profile_id,omitempty"`
}

type telnyxSendResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Send implements Transport. 5xx responses, rate limiting and network
// failures are transient; every other non-2xx response is permanent.
func (t *TelnyxSMS) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload, err := json.Marshal(telnyxSendRequest{
		From:               msg.From,
		To:                 msg.To,
		Text:               msg.Body,
		MessagingProfileID: t.messagingProfileID,
	})
	if err != nil {
		return "", fmt.Errorf("telnyx: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, telnyxMessagesURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("telnyx: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("telnyx: send: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("telnyx: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", Transient(apiErr)
		}
		return "", Permanent(apiErr)
	}

	var out telnyxSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("telnyx: decode response: %w", err)
	}
	t.logger.Debug("telnyx accepted message", "provider_msg_id", out.Data.ID, "to", msg.To)
	return out.Data.ID, nil
}
