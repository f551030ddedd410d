package db

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	src := `-- header
CREATE TABLE a (id INT);

-- second
CREATE TABLE b (
	id INT -- trailing comments stay
);
`
	stmts := splitStatements(src)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b"))
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	for _, name := range []string{"migrations/0001_init.sql", "migrations/0002_reminder_runs.sql"} {
		buf, err := migrationFiles.ReadFile(name)
		require.NoError(t, err, name)
		for _, stmt := range splitStatements(string(buf)) {
			assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE"), "%s: %q", name, stmt)
		}
	}
}

// openTestDB は TEST_MYSQL_DSN が無ければテストを skip する。
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	conn, err := sqlx.Open(driverName, dsn)
	require.NoError(t, err)
	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Skipf("mysql unreachable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	var n int
	require.NoError(t, conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 2, n)
}
