package voiceprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.VoiceProviderConfig{
		BaseURL: srv.URL, APIKey: "test-key", WebhookURL: "https://example.test/hook", Timeout: 5 * time.Second,
	})
}

// TestCreateCallSendsIdempotencyKey confirms CallID is sent as the
// Idempotency-Key header so a retried CreateCall for the same reserved call
// never places a second real-world call (§4.5).
func TestCreateCallSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CreateCallResponse{ExecutionID: "exec-1", Status: "queued"})
	})

	resp, err := client.CreateCall(context.Background(), CreateCallRequest{
		CallID: 555, AgentID: "agent-1", Phone: "+15550001111",
	})
	require.NoError(t, err)
	require.Equal(t, "exec-1", resp.ExecutionID)
	require.Equal(t, "555", gotKey)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "agent-1", gotBody["agent_id"])
	require.Equal(t, "https://example.test/hook", gotBody["webhook_url"])
}

func TestCreateCallUsesRequestWebhookOverrideOverDefault(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(CreateCallResponse{ExecutionID: "exec-2"})
	})

	_, err := client.CreateCall(context.Background(), CreateCallRequest{
		CallID: 1, AgentID: "a", Phone: "+1", WebhookURL: "https://override.test/hook",
	})
	require.NoError(t, err)
	require.Equal(t, "https://override.test/hook", gotBody["webhook_url"])
}

func TestCreateCallReturnsProviderErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid agent"))
	})

	_, err := client.CreateCall(context.Background(), CreateCallRequest{CallID: 1, AgentID: "bad", Phone: "+1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid agent")
}

func TestStopCallPostsToStopEndpoint(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.StopCall(context.Background(), "exec-9"))
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/v1/calls/exec-9/stop", gotPath)
}

func TestGetCallStatusDecodesTerminalFlag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/calls/exec-3", r.URL.Path)
		json.NewEncoder(w).Encode(CallStatusResponse{ExecutionID: "exec-3", Status: "completed", Terminal: true})
	})

	status, err := client.GetCallStatus(context.Background(), "exec-3")
	require.NoError(t, err)
	require.True(t, status.Terminal)
	require.Equal(t, "completed", status.Status)
}
