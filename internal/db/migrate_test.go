package db

import (
	"context"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/errors"
)

var migrationColumns = []string{"id", "name", "applied_at", "checksum"}

func TestEmbeddedMigrations(t *testing.T) {
	m := NewMigrator(nil)
	files, err := m.getMigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_sessions.sql", files[0])

	content, err := fs.ReadFile(m.files, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS scan_sessions")
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS port_results")
}

func TestMigratorUp(t *testing.T) {
	db, mock := newMock(t)
	m := NewMigrator(db.DB)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows(migrationColumns))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("001_sessions", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ran, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_sessions"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorUpSkipsApplied(t *testing.T) {
	db, mock := newMock(t)
	m := NewMigrator(db.DB)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows(migrationColumns).AddRow(1, "001_sessions", time.Now(), "abc"))

	ran, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorUpFailure(t *testing.T) {
	db, mock := newMock(t)
	m := NewMigrator(db.DB)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows(migrationColumns))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_sessions")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := m.Up(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseMigration))
	assert.True(t, errors.IsFatal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorStatus(t *testing.T) {
	db, mock := newMock(t)
	m := NewMigrator(db.DB)
	applied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows(migrationColumns).AddRow(1, "001_sessions", applied, "stale"))

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, status)
	assert.Equal(t, "001_sessions", status[0].Name)
	assert.True(t, status[0].Applied)
	assert.Equal(t, applied, status[0].AppliedAt)
	assert.True(t, status[0].Modified)
	assert.NoError(t, mock.ExpectationsWereMet())
}
