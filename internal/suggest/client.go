package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/tenancy"
	"github.com/stayloop/guestops/pkg/logging"
)

// Client calls the reply-suggestion service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a suggestion client.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type suggestRequest struct {
	ThreadID  uuid.UUID `json:"thread_id"`
	CompanyID uuid.UUID `json:"company_id"`
	StayID    uuid.UUID `json:"stay_id"`
	Channel   string    `json:"channel"`
	Body      string    `json:"body"`
}

// Suggest asks the service for a reply to one inbound message. A service
// outage, an empty answer or an invalid answer all come back as
// ErrUnavailable; the caller escalates rather than guessing.
func (c *Client) Suggest(ctx context.Context, threadID, companyID, stayID uuid.UUID, channel, body string) (Suggestion, error) {
	payload, err := json.Marshal(suggestRequest{
		ThreadID:  threadID,
		CompanyID: companyID,
		StayID:    stayID,
		Channel:   channel,
		Body:      body,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/suggest", bytes.NewReader(payload))
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := tenancy.CompanyIDFromContext(ctx); ok {
		req.Header.Set("X-Company-ID", id.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("suggestion service unreachable", "error", err)
		return Suggestion{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return Suggestion{}, ErrUnavailable
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("suggestion service error", "status", resp.StatusCode, "body", string(body))
		return Suggestion{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var s Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Suggestion{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if err := s.Validate(); err != nil {
		return Suggestion{}, err
	}
	return s, nil
}
