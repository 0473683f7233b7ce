package processor

import (
	"context"
	"database/sql"
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
	"github.com/sddhantjaiii/callorch/internal/queue"
	"github.com/sddhantjaiii/callorch/internal/schedule"
	"github.com/sddhantjaiii/callorch/internal/voiceprovider"
)

var queueItemColumns = []string{
	"id", "tenant_id", "campaign_id", "contact_id", "agent_id", "phone", "kind", "priority",
	"position", "scheduled_for", "status", "attempts", "last_error", "call_id", "created_at", "updated_at",
}

var tenantColumns = []string{
	"id", "name", "credits", "concurrent_calls_limit", "individual_prompt_id", "complete_prompt_id", "created_at", "updated_at",
}

func acceptingVoiceServer(t *testing.T) *voiceprovider.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(voiceprovider.CreateCallResponse{ExecutionID: "exec-" + r.Header.Get("Idempotency-Key"), Status: "queued"})
	}))
	t.Cleanup(srv.Close)
	return voiceprovider.New(config.VoiceProviderConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func newTestProcessor(t *testing.T, voice *voiceprovider.Client, cfg config.QueueConfig) (*Processor, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(&database.Connection{DB: db})
	t.Cleanup(repo.Close)

	conc := concurrency.New(repo, cfg)
	q := queue.New(repo, cfg)
	sched := schedule.New(repo, time.Hour)
	return New(repo, q, conc, sched, voice, nil, cfg), mock
}

func expectReserveSlot(mock sqlmock.Sqlmock, tenantID, mintedCallID int64, kind string) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT nextval\\('calls_id_seq'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(mintedCallID))
	mock.ExpectExec("INSERT INTO active_slots").
		WithArgs(mintedCallID, tenantID, kind).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func expectPlaceCall(mock sqlmock.Sqlmock, callID, tenantID int64) {
	mock.ExpectQuery("INSERT INTO calls").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(callID))
	mock.ExpectExec("UPDATE calls SET execution_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectMarkProcessing(mock sqlmock.Sqlmock, itemID int64) {
	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// TestDispatchNextHappyPath exercises the full blacklist -> credits ->
// window -> reserve -> place chain for a single direct item.
func TestDispatchNextHappyPath(t *testing.T) {
	p, mock := newTestProcessor(t, acceptingVoiceServer(t), config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3})

	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(queueItemColumns).
			AddRow(501, 7, nil, nil, 1, "+15550001111", database.KindDirect, 100, 1, time.Now(), "queued", 0, "", nil, time.Now(), time.Now()))

	mock.ExpectQuery("SELECT EXISTS.+FROM blacklist_entries").
		WithArgs(int64(7), "+15550001111").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(tenantColumns).AddRow(7, "acme", 100, 2, "", "", time.Now(), time.Now()))

	expectReserveSlot(mock, 7, 601, database.KindDirect)
	expectPlaceCall(mock, 601, 7)
	expectMarkProcessing(mock, 501)

	dispatched, itemID, callID, err := p.DispatchDirect(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, dispatched)
	require.Equal(t, int64(501), itemID)
	require.Equal(t, int64(601), callID)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatchNextMarksInsufficientCreditsFailed covers the §4.4 behavior
// change: a tenant with no credits has its queue item marked failed, not
// silently skipped.
func TestDispatchNextMarksInsufficientCreditsFailed(t *testing.T) {
	p, mock := newTestProcessor(t, nil, config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3})

	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(queueItemColumns).
			AddRow(502, 7, nil, nil, 1, "+15550002222", database.KindDirect, 100, 1, time.Now(), "queued", 0, "", nil, time.Now(), time.Now()))

	mock.ExpectQuery("SELECT EXISTS.+FROM blacklist_entries").
		WithArgs(int64(7), "+15550002222").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(tenantColumns).AddRow(7, "acme", 0, 2, "", "", time.Now(), time.Now()))

	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	dispatched, itemID, _, err := p.DispatchDirect(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, dispatched)
	require.Equal(t, int64(502), itemID)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatchNextCancelsBlacklistedItem confirms a blacklisted phone is
// cancelled rather than reserved a slot.
func TestDispatchNextCancelsBlacklistedItem(t *testing.T) {
	p, mock := newTestProcessor(t, nil, config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3})

	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(queueItemColumns).
			AddRow(503, 7, nil, nil, 1, "+15550003333", database.KindDirect, 100, 1, time.Now(), "queued", 0, "", nil, time.Now(), time.Now()))

	mock.ExpectQuery("SELECT EXISTS.+FROM blacklist_entries").
		WithArgs(int64(7), "+15550003333").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	dispatched, itemID, _, err := p.DispatchDirect(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, dispatched)
	require.Equal(t, int64(503), itemID)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDispatchNextNoEligibleItem confirms an empty queue is reported as "no
// eligible item" rather than an error.
func TestDispatchNextNoEligibleItem(t *testing.T) {
	p, mock := newTestProcessor(t, nil, config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3})

	mock.ExpectQuery("SELECT (.+) FROM queue_items").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	dispatched, _, _, err := p.DispatchDirect(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, dispatched)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRunPassDispatchesUpToAvailPerTenant is the dispatch-loop check (§4.4
// step 4): one pass must repeat dispatch for a tenant up to its available
// concurrency budget, not stop after the first item.
func TestRunPassDispatchesUpToAvailPerTenant(t *testing.T) {
	cfg := config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3, AdvisoryLockName: "queue-processor", PassBudget: time.Minute}
	p, mock := newTestProcessor(t, acceptingVoiceServer(t), cfg)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery("SELECT DISTINCT tenant_id FROM queue_items").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(int64(7)))

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	tenantRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(tenantColumns).AddRow(7, "acme", 100, 2, "", "", time.Now(), time.Now())
	}
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").WithArgs(int64(7)).WillReturnRows(tenantRow())

	for i, ids := range []struct{ item, call int64 }{{601, 701}, {602, 702}} {
		mock.ExpectQuery("SELECT (.+) FROM queue_items").
			WithArgs(int64(7), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(queueItemColumns).
				AddRow(ids.item, 7, nil, nil, 1, "+1555000000"+string(rune('0'+i)), database.KindDirect, 100, 1, time.Now(), "queued", 0, "", nil, time.Now(), time.Now()))
		mock.ExpectQuery("SELECT EXISTS.+FROM blacklist_entries").
			WithArgs(int64(7), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").WithArgs(int64(7)).WillReturnRows(tenantRow())
		expectReserveSlot(mock, 7, ids.call, database.KindDirect)
		expectPlaceCall(mock, ids.call, 7)
		expectMarkProcessing(mock, ids.item)
	}

	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.ProcessImmediate(context.Background())
	require.NoError(t, err)
	require.True(t, result.Processed)
	require.Equal(t, 2, result.Dispatched)

	require.NoError(t, mock.ExpectationsWereMet())
}
