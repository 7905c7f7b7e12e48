// Package dbtest hands out isolated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/parisxmas/OxiDB/OxiField/internal/db"
)

// GetTestDB returns a fresh database with the schema applied. It is closed
// when the test ends.
func GetTestDB(t testing.TB) *sql.DB {
	t.Helper()
	// Generate unique database name for this test to ensure isolation
	conn, err := db.OpenMemory(context.Background(), "testdb_"+ulid.Make().String())
	if err != nil {
		t.Fatalf("dbtest: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
