package concurrency

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(&database.Connection{DB: db})
	t.Cleanup(repo.Close)

	cfg := config.QueueConfig{GlobalConcurrencyCap: 10, DefaultTenantCap: 3}
	return New(repo, cfg), mock
}

// TestReserveMintsCallIDForActiveSlot pins invariant 3 (§8): the id
// ReserveSlot hands back under a successful reservation is the id the
// subsequent Call row must be created with, drawn from calls_id_seq inside
// the same serializable transaction.
func TestReserveMintsCallIDForActiveSlot(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT nextval\\('calls_id_seq'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(555)))
	mock.ExpectExec("INSERT INTO active_slots").
		WithArgs(int64(555), int64(7), "direct").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.Reserve(7, "direct", 3)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, int64(555), result.CallID)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReserveRetriesOnSerializationFailure covers the TOCTOU fix: a
// reservation that loses the SERIALIZABLE race is retried rather than
// failed back to the caller (§4.1).
func TestReserveRetriesOnSerializationFailure(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT nextval\\('calls_id_seq'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(556)))
	mock.ExpectExec("INSERT INTO active_slots").
		WithArgs(int64(556), int64(7), "direct").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.Reserve(7, "direct", 3)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, int64(556), result.CallID)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReserveDeniesAtTenantCap checks the no-slot branch never mints a call
// id or touches active_slots.
func TestReserveDeniesAtTenantCap(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	result, err := m.Reserve(7, "direct", 3)
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, "no concurrency slot available", result.Reason)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestReleaseKeyedOnCallID confirms Release operates on the call id, not the
// tenant id (invariant 3, §8) — the prior bug this review caught.
func TestReleaseKeyedOnCallID(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectExec("DELETE FROM active_slots WHERE id").
		WithArgs(int64(555)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.Release(555))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantLoad(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM active_slots WHERE tenant_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := m.TenantLoad(7)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
