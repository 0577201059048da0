// Package testing holds fixtures shared by package tests.
package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smtaidev/outbound/db"
)

// CreateTestDB returns an in-memory ledger with every migration applied.
// Migration logs go to the test output; the connection closes on cleanup.
func CreateTestDB(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", db.DSN(":memory:"))
	require.NoError(t, err, "open in-memory ledger")
	t.Cleanup(func() { _ = conn.Close() })

	// a second pooled connection would see its own empty :memory: database
	conn.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(conn, zaptest.NewLogger(t).Sugar()), "migrate in-memory ledger")
	return conn
}
