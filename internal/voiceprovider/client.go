// Package voiceprovider is the thin boundary to the external voice-AI
// platform (§4.5): create a call, stop a call, poll a call's status. The
// boundary intentionally knows nothing about queueing, billing, or
// concurrency — those stay in their own components.
package voiceprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sddhantjaiii/callorch/internal/config"
)

// Client talks to the voice provider's HTTP API, replacing apicall's
// Asterisk .call-file spool (internal/asterisk/spool.go) now that dialing
// is delegated to an external platform rather than a local PBX.
type Client struct {
	baseURL    string
	apiKey     string
	webhookURL string
	httpClient *http.Client
}

// New constructs a Client from VoiceProviderConfig.
func New(cfg config.VoiceProviderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateCallRequest describes one outbound call request. CallID is used as
// the provider's idempotency key (§4.5): a retried CreateCall for the same
// CallID must not place a second real-world call.
type CreateCallRequest struct {
	CallID      int64
	AgentID     string
	Phone       string
	WebhookURL  string
	Metadata    map[string]string
}

// CreateCallResponse is the provider's acknowledgement, carrying the
// execution id that all subsequent webhooks will correlate against.
type CreateCallResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// CreateCall places an outbound call. The idempotency key is sent as a
// header so the provider can de-duplicate retried requests (§4.5).
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error) {
	webhookURL := req.WebhookURL
	if webhookURL == "" {
		webhookURL = c.webhookURL
	}
	body, err := json.Marshal(map[string]interface{}{
		"agent_id":    req.AgentID,
		"phone":       req.Phone,
		"webhook_url": webhookURL,
		"metadata":    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling create-call request: %w", err)
	}

	var out CreateCallResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calls", fmt.Sprintf("%d", req.CallID), body, &out); err != nil {
		return nil, fmt.Errorf("creating call for call id %d: %w", req.CallID, err)
	}
	return &out, nil
}

// StopCall requests early termination of an in-progress call.
func (c *Client) StopCall(ctx context.Context, executionID string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/calls/"+executionID+"/stop", "", nil, nil); err != nil {
		return fmt.Errorf("stopping call %s: %w", executionID, err)
	}
	return nil
}

// CallStatusResponse is the provider's reconciliation-sweep answer for
// "what is this call doing right now" (§12, used by the reconciler).
type CallStatusResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Terminal    bool   `json:"terminal"`
}

// GetCallStatus polls the provider for a call's current state, the
// out-of-band confirmation the reconciler uses before declaring a call
// stuck (§12, adapted from apicall's OrphanCallCleaner).
func (c *Client) GetCallStatus(ctx context.Context, executionID string) (*CallStatusResponse, error) {
	var out CallStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+executionID, "", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching status for call %s: %w", executionID, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
