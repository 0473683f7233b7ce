package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/concurrency"
	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/voiceprovider"
)

func newTestReconciler(t *testing.T, voice *voiceprovider.Client) (*Reconciler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(&database.Connection{DB: db})
	t.Cleanup(repo.Close)

	conc := concurrency.New(repo, config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3})
	return New(repo, conc, voice), mock
}

func voiceClientReturning(t *testing.T, status CallStatusResponseStub) *voiceprovider.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(voiceprovider.CallStatusResponse{
			ExecutionID: status.ExecutionID, Status: status.Status, Terminal: status.Terminal,
		})
	}))
	t.Cleanup(srv.Close)
	return voiceprovider.New(config.VoiceProviderConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

// CallStatusResponseStub avoids importing voiceprovider's response type
// twice in test helper signatures.
type CallStatusResponseStub struct {
	ExecutionID string
	Status      string
	Terminal    bool
}

var callColumns = []string{
	"id", "tenant_id", "agent_id", "contact_id", "execution_id", "direction", "phone",
	"lifecycle_status", "ringing_started_at", "call_answered_at", "call_disconnected_at",
	"duration_seconds", "duration_minutes", "credits_used", "hangup_by", "hangup_reason",
	"hangup_provider_code", "provider_payload", "campaign_id", "created_at", "updated_at",
}

// TestReconcileOneMarksNeverDispatchedCallFailed covers the case where the
// reservation succeeded but the call never reached the provider: no
// execution id was ever attached, so the reconciler marks it failed without
// polling anything.
func TestReconcileOneMarksNeverDispatchedCallFailed(t *testing.T) {
	r, mock := newTestReconciler(t, nil)

	rows := sqlmock.NewRows(callColumns).AddRow(
		int64(42), int64(7), int64(1), nil, "", "outbound", "+15550001111",
		database.LifecycleInitiated, nil, nil, nil,
		0, 0, 0, "", "", "", nil, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM calls WHERE id").WithArgs(int64(42)).WillReturnRows(rows)

	mock.ExpectExec("UPDATE calls SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM active_slots WHERE id").WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.reconcileOne(context.Background(), 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReconcileOneSkipsTerminalCall confirms a call that already completed
// is left untouched — no provider poll, no release.
func TestReconcileOneSkipsTerminalCall(t *testing.T) {
	r, mock := newTestReconciler(t, nil)

	rows := sqlmock.NewRows(callColumns).AddRow(
		int64(43), int64(7), int64(1), nil, "exec-43", "outbound", "+15550001111",
		database.LifecycleCompleted, nil, nil, nil,
		60, 1, 1, "", "", "", nil, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM calls WHERE id").WithArgs(int64(43)).WillReturnRows(rows)

	require.NoError(t, r.reconcileOne(context.Background(), 43))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReconcileOneConfirmsTerminalStatusWithProviderBeforeFailing exercises
// the out-of-band confirmation path (§12): a non-terminal call with an
// execution id is checked against the provider, and only marked failed once
// the provider itself reports a terminal status with no webhook delivered.
func TestReconcileOneConfirmsTerminalStatusWithProviderBeforeFailing(t *testing.T) {
	voice := voiceClientReturning(t, CallStatusResponseStub{ExecutionID: "exec-44", Status: "completed", Terminal: true})
	r, mock := newTestReconciler(t, voice)

	rows := sqlmock.NewRows(callColumns).AddRow(
		int64(44), int64(7), int64(1), nil, "exec-44", "outbound", "+15550001111",
		database.LifecycleInProgress, nil, nil, nil,
		0, 0, 0, "", "", "", nil, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM calls WHERE id").WithArgs(int64(44)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE calls SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM active_slots WHERE id").WithArgs(int64(44)).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.reconcileOne(context.Background(), 44))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReconcileOneLeavesActiveCallInPlace confirms a call the provider still
// reports active is left alone: no update, no release.
func TestReconcileOneLeavesActiveCallInPlace(t *testing.T) {
	voice := voiceClientReturning(t, CallStatusResponseStub{ExecutionID: "exec-45", Status: "in-progress", Terminal: false})
	r, mock := newTestReconciler(t, voice)

	rows := sqlmock.NewRows(callColumns).AddRow(
		int64(45), int64(7), int64(1), nil, "exec-45", "outbound", "+15550001111",
		database.LifecycleInProgress, nil, nil, nil,
		0, 0, 0, "", "", "", nil, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM calls WHERE id").WithArgs(int64(45)).WillReturnRows(rows)

	require.NoError(t, r.reconcileOne(context.Background(), 45))
	require.NoError(t, mock.ExpectationsWereMet())
}
