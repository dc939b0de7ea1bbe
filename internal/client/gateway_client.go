package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fieldops-service/internal/config"
	"fieldops-service/internal/notify"
)

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// GatewayClient posts notifications to the outbound messaging gateway.
type GatewayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewGatewayClient(cfg *config.Config) *GatewayClient {
	return &GatewayClient{
		baseURL: cfg.Notify.GatewayURL,
		token:   cfg.Notify.GatewayToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// Dispatch sends msg. Network errors and 5xx answers are retried with a
// linear backoff; 4xx answers are returned at once.
func (c *GatewayClient) Dispatch(ctx context.Context, msg notify.Message) (notify.Receipt, error) {
	if c.baseURL == "" {
		return notify.Receipt{}, fmt.Errorf("notification gateway URL is not configured")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return notify.Receipt{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return notify.Receipt{}, fmt.Errorf("gateway dispatch cancelled: %w", errors.Join(ctx.Err(), lastErr))
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		receipt, retry, err := c.send(ctx, msg, payload)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !retry {
			return notify.Receipt{}, err
		}
	}
	return notify.Receipt{}, fmt.Errorf("failed to execute request after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *GatewayClient) send(ctx context.Context, msg notify.Message, payload []byte) (notify.Receipt, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return notify.Receipt{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if msg.NotificationID != 0 {
		req.Header.Set("Idempotency-Key", strconv.FormatUint(uint64(msg.NotificationID), 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return notify.Receipt{}, ctx.Err() == nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return notify.Receipt{}, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return notify.Receipt{}, true, fmt.Errorf("notification gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return notify.Receipt{}, false, fmt.Errorf("notification gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var out sendResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return notify.Receipt{}, false, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return notify.Receipt{NotificationID: msg.NotificationID, ProviderMessageID: out.MessageID}, false, nil
}
