package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stash/logger"

	"github.com/stretchr/testify/require"
)

var (
	testDB *DB
)

// GetTestDB returns the shared Postgres connection set up by TestMain, or
// nil when no test database is configured.
func GetTestDB() *DB {
	return testDB
}

// RequireTestDB returns the shared Postgres connection with empty tables,
// skipping the test when none is available.
func RequireTestDB(t *testing.T) *DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := GetTestDB()
	if db == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
	CleanupTestDB(t, db)
	return db
}

// SetupTestDB connects to dbURL and applies the embedded migrations.
// Should be called once in TestMain, not in individual tests.
func SetupTestDB(dbURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Connect(ctx, dbURL, PoolConfig{MaxConns: 10, MinConns: 1}, logger.NewForTests())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// CleanupTestDB truncates all tables for a fresh test state.
func CleanupTestDB(t *testing.T, db *DB) {
	t.Helper()

	_, err := db.Pool.Exec(context.Background(), "TRUNCATE TABLE events, projects")
	require.NoError(t, err)
}

// TeardownTestDB closes the test database connection. Safe to call with nil.
func TeardownTestDB(db *DB) {
	if db != nil {
		db.Close()
	}
}

// NewTestFileStore opens a FileStore in a per-test temp directory.
func NewTestFileStore(t *testing.T) *FileStore {
	t.Helper()

	store, err := OpenFileStore(context.Background(), t.TempDir(), logger.NewForTests())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}
