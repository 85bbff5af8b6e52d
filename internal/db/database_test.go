package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Empty(t, cfg.Database)
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = "portscope"
	cfg.Username = "scanner"
	cfg.Password = "s3cret"

	assert.Equal(t,
		"host=localhost port=5432 dbname=portscope user=scanner password=s3cret sslmode=disable",
		cfg.DSN())
}

func TestPing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))
}

func TestPingFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	err := db.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseQuery))
}
