package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

type ledgerRow struct {
	ID  int
	Ref string `gorm:"uniqueIndex"`
}

func openSQLite(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver:       "SQLite",
		DSN:          "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&ledgerRow{}))
	return client
}

func countRows(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestNewRejectsBlankDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "  "}, nil)
	assert.ErrorIs(t, err, errNoDSN)
}

func TestDriver(t *testing.T) {
	assert.Equal(t, DriverSQLite, Driver(config.DBConfig{Driver: " sqlite "}))
	assert.Equal(t, DriverPostgres, Driver(config.DBConfig{Driver: "postgres"}))
	assert.Equal(t, DriverPostgres, Driver(config.DBConfig{}))
}

func TestWithTx(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Ref: "kept"}).Error
	}))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Ref: "dropped"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Ref: "panicked"}).Error)
			panic("abort")
		})
	})
	assert.EqualValues(t, 1, countRows(t, client))
}

func TestPermanent(t *testing.T) {
	client := openSQLite(t)
	require.NoError(t, client.DB().Create(&ledgerRow{Ref: "dup"}).Error)
	dupErr := client.DB().Create(&ledgerRow{Ref: "dup"}).Error
	require.Error(t, dupErr)

	cases := map[string]struct {
		err  error
		want bool
	}{
		"sqlite duplicate":    {err: dupErr, want: true},
		"unique violation":    {err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		"invalid text":        {err: &pgconn.PgError{Code: "22P02"}, want: true},
		"undefined column":    {err: &pgconn.PgError{Code: "42703"}, want: true},
		"serialization":       {err: &pgconn.PgError{Code: "40001"}, want: false},
		"admin shutdown":      {err: &pgconn.PgError{Code: "57P01"}, want: false},
		"context deadline":    {err: context.DeadlineExceeded, want: false},
		"nil":                 {err: nil, want: false},
		"gorm foreign key":    {err: gorm.ErrForeignKeyViolated, want: true},
		"gorm record missing": {err: gorm.ErrRecordNotFound, want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Permanent(tc.err))
		})
	}
}

func TestSQLState(t *testing.T) {
	assert.Equal(t, "40P01", SQLState(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"})))
	assert.Empty(t, SQLState(errors.New("plain")))
}
