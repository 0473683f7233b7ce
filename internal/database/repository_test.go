package database

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Repository{conn: &Connection{DB: db}}, mock
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("boom")))
}

func TestFindOrCreateContactReturnsExistingRowOnConflict(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO contacts").
		WithArgs(int64(1), "+15550001111", "", "", "", false, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "phone", "name", "email", "company", "tags",
		"is_auto_created", "auto_creation_source", "auto_created_from_call_id", "created_at",
	}).AddRow(int64(9), int64(1), "+15550001111", "Jane", "", "", nil, false, "", nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM contacts WHERE tenant_id").
		WithArgs(int64(1), "+15550001111").
		WillReturnRows(rows)

	contact, created, err := repo.FindOrCreateContact(&Contact{TenantID: 1, Phone: "+15550001111"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(9), contact.ID)
	require.Equal(t, "Jane", contact.Name)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateContactReportsCreated(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO contacts").
		WithArgs(int64(2), "+15550002222", "", "", "", false, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "phone", "name", "email", "company", "tags",
		"is_auto_created", "auto_creation_source", "auto_created_from_call_id", "created_at",
	}).AddRow(int64(10), int64(2), "+15550002222", "", "", "", nil, false, "", nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM contacts WHERE tenant_id").
		WithArgs(int64(2), "+15550002222").
		WillReturnRows(rows)

	_, created, err := repo.FindOrCreateContact(&Contact{TenantID: 2, Phone: "+15550002222"})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantNotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTenant(404)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCallLifecycleNoopOnEmptyFields(t *testing.T) {
	repo, mock := newTestRepository(t)
	require.NoError(t, repo.UpdateCallLifecycle("exec-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
