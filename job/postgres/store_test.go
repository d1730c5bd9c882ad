package postgres

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/moderation-server/job/tests"
)

// Runs against a real database, e.g.
// JOB_TEST_DATABASE_URL=postgres://localhost/moderation_test go test ./job/postgres
func TestJob_PostgresStore(t *testing.T) {
	databaseURL := os.Getenv("JOB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("JOB_TEST_DATABASE_URL not set; skipping postgres store test")
	}

	db, err := sql.Open("pgx", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	schema, err := os.ReadFile("schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	testStore := NewInPostgres(db)
	teardown := func() {
		testStore.(*pgStore).reset()
	}
	tests.RunStoreTests(t, testStore, teardown)
}
