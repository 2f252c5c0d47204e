// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/pkg/errutil"
)

func TestPostgres_Get(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      []byte
		wantCode  string
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT value FROM plugin_kv`).
					WithArgs("network-info", "theme").
					WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte("dark")))
			},
			want: []byte("dark"),
		},
		{
			name: "missing key is absent not error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT value FROM plugin_kv`).
					WithArgs("network-info", "theme").
					WillReturnError(pgx.ErrNoRows)
			},
			want: nil,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT value FROM plugin_kv`).
					WithArgs("network-info", "theme").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: CodeStorageFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setupMock(mock)

			kv := NewPostgres(mock)
			got, err := kv.Get(context.Background(), "network-info", "theme")
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO plugin_kv`).
		WithArgs("network-info", "theme", []byte("dark")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	kv := NewPostgres(mock)
	require.NoError(t, kv.Set(context.Background(), "network-info", "theme", []byte("dark")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetMissingTableHintsMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO plugin_kv`).
		WithArgs("network-info", "theme", []byte("dark")).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: `relation "plugin_kv" does not exist`})

	kv := NewPostgres(mock)
	err = kv.Set(context.Background(), "network-info", "theme", []byte("dark"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeStorageFailed)
	errutil.AssertErrorContext(t, err, "sqlstate", pgerrcode.UndefinedTable)

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Contains(t, oopsErr.Hint(), "migrations")
}

func TestPostgres_RejectsBeforeQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	kv := NewPostgres(mock)
	ctx := context.Background()

	errutil.AssertErrorCode(t, kv.Set(ctx, "../etc", "k", []byte("v")), CodeInvalidNamespace)
	errutil.AssertErrorCode(t, kv.Set(ctx, "ns", "k", make([]byte, MaxValueBytes+1)), CodeValueTooLarge)
	_, err = kv.Get(ctx, "ns", "a/b")
	errutil.AssertErrorCode(t, err, CodeInvalidKey)

	// No query may reach the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM plugin_kv`).
		WithArgs("network-info", "theme").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	kv := NewPostgres(mock)
	require.NoError(t, kv.Delete(context.Background(), "network-info", "theme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
