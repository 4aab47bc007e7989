package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/tomoncle/userhub/utils"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID int64 `bun:"id,pk,autoincrement"`
}

func TestMain(m *testing.M) {
	utils.ConfigureLogOutput(io.Discard)
	os.Exit(m.Run())
}

func testRegistry() ModelRegistry {
	return NewModelRegistry(
		NewModelAdapter((*widget)(nil), 10),
		NewModelAdapter((*gadget)(nil), 20),
	)
}

func clearDatabaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_NAME", "DB_NAME", "DB_TYPE", "DB_ENABLE_QUERY_LOG", "DB_SLOW_QUERY_TIME", "DB_CONN_MAX_LIFETIME", "DB_HOST", "DB_PORT"} {
		t.Setenv(key, "")
	}
}

func openSynced(t *testing.T, cfg *ConnectionConfig, force bool) AbstractDatabaseManager {
	t.Helper()
	ctx := context.Background()
	dm, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, dm.SyncSchema(ctx, testRegistry(), SyncOptions{Force: force}))
	return dm
}

func countWidgets(t *testing.T, dm AbstractDatabaseManager) int {
	t.Helper()
	n, err := dm.GetDB().NewSelect().Model((*widget)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

func insertWidget(t *testing.T, dm AbstractDatabaseManager, name string) {
	t.Helper()
	_, err := dm.GetDB().NewInsert().Model(&widget{Name: name}).Exec(context.Background())
	require.NoError(t, err)
}

func TestOpenDefaultsToInMemorySQLite(t *testing.T) {
	clearDatabaseEnv(t)

	dm, err := Open(context.Background(), nil, nil)
	require.NoError(t, err)
	defer func() { _ = dm.Disconnect() }()

	cfg := dm.Config()
	assert.Equal(t, TypeSQLite, cfg.Type)
	assert.Equal(t, MemoryStorage, cfg.DBName)
	assert.False(t, cfg.EnableQueryLog)
	assert.True(t, cfg.IsMemory())
	assert.Equal(t, 1, dm.GetStats().MaxOpenConns)
}

func TestMemoryDatabaseIsEphemeral(t *testing.T) {
	clearDatabaseEnv(t)

	first := openSynced(t, nil, true)
	insertWidget(t, first, "alpha")
	// Every query must see the same in-memory database.
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, countWidgets(t, first))
	}
	require.NoError(t, first.Disconnect())

	second := openSynced(t, nil, false)
	defer func() { _ = second.Disconnect() }()
	assert.Equal(t, 0, countWidgets(t, second))
}

func TestFileDatabaseSyncIsDestructive(t *testing.T) {
	clearDatabaseEnv(t)
	path := filepath.Join(t.TempDir(), "users.sqlite")
	t.Setenv("DATABASE_NAME", path)

	dm := openSynced(t, nil, true)
	assert.Equal(t, path, dm.Config().DBName)
	insertWidget(t, dm, "alpha")
	require.NoError(t, dm.Disconnect())

	_, err := os.Stat(path)
	require.NoError(t, err)

	// A non-destructive sync keeps the row on disk.
	dm = openSynced(t, nil, false)
	assert.Equal(t, 1, countWidgets(t, dm))
	require.NoError(t, dm.Disconnect())

	dm = openSynced(t, nil, true)
	defer func() { _ = dm.Disconnect() }()
	assert.Equal(t, 0, countWidgets(t, dm))

	// Recreated tables are usable, unique constraint included.
	insertWidget(t, dm, "beta")
	_, err = dm.GetDB().NewInsert().Model(&widget{Name: "beta"}).Exec(context.Background())
	require.Error(t, err)
	assert.True(t, IsSqlErrorOf(err, DuplicateKeyErr), "got %v", err)
}

func TestCreateFromConfigDoesNotMutateInput(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DB_NAME", "ignored.db")
	t.Setenv("DATABASE_NAME", "chosen.db")
	t.Setenv("DB_ENABLE_QUERY_LOG", "true")

	cfg := DefaultConnectionConfig()
	dm, err := NewDatabaseFactory(nil).CreateFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, MemoryStorage, cfg.DBName)
	assert.False(t, cfg.EnableQueryLog)
	assert.Equal(t, "chosen.db", dm.Config().DBName)
	assert.True(t, dm.Config().EnableQueryLog)
}

func TestCreateFromConfigRejectsUnknownDialect(t *testing.T) {
	clearDatabaseEnv(t)

	_, err := NewDatabaseFactory(nil).CreateFromConfig(&ConnectionConfig{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")

	_, err = NewDatabaseFactory(nil).CreateFromConfig(nil)
	require.Error(t, err)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, TypeSQLite, normalizeType(""))
	assert.Equal(t, TypeSQLite, normalizeType("SQLite3"))
	assert.Equal(t, TypePostgres, normalizeType("postgresql"))
	assert.Equal(t, TypeMySQL, normalizeType("mariadb"))
	assert.Equal(t, "oracle", normalizeType("oracle"))
}

func TestSyncSchemaFailureRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dm := NewDatabaseManagerWithDB(DefaultConnectionConfig(), sqlDB, sqlitedialect.New())
	defer func() { _ = dm.Disconnect() }()

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = dm.SyncSchema(context.Background(), testRegistry(), SyncOptions{Force: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync schema failed")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncSchemaDropsInReverseOrder(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dm := NewDatabaseManagerWithDB(DefaultConnectionConfig(), sqlDB, sqlitedialect.New())
	defer func() { _ = dm.Disconnect() }()

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "gadgets"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "widgets"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "widgets"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "gadgets"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, dm.SyncSchema(context.Background(), testRegistry(), SyncOptions{Force: true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncSchemaWithoutConnection(t *testing.T) {
	dm := NewDatabaseManager(nil)
	err := dm.SyncSchema(context.Background(), testRegistry(), SyncOptions{Force: true})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, dm.Ping(context.Background()), ErrNotConnected)
	assert.False(t, dm.HealthCheck(context.Background()).Healthy)
}

func TestHealthCheck(t *testing.T) {
	clearDatabaseEnv(t)
	dm, err := Open(context.Background(), nil, nil)
	require.NoError(t, err)

	status := dm.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, TypeSQLite, status.Dialect)

	require.NoError(t, dm.Disconnect())
	status = dm.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.LastError)
}

func TestModelRegistryOrder(t *testing.T) {
	r := NewModelRegistry(
		NewModelAdapter("c", 30),
		NewModelAdapter("a", 10),
		NewModelAdapter("b", 10),
		nil,
	)
	r.Register(NewModelAdapter("first", 0))

	assert.Equal(t, []interface{}{"first", "a", "b", "c"}, r.Instances())
}

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   bool
		want SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"no rows", fmt.Errorf("get user: %w", sql.ErrNoRows), true, NoRowsErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true, DuplicateKeyErr},
		{"mysql missing table", &mysql.MySQLError{Number: 1146}, true, NoTableErr},
		{"postgres duplicate", &pq.Error{Code: "23505"}, true, DuplicateKeyErr},
		{"postgres missing table", &pq.Error{Code: "42P01"}, true, NoTableErr},
		{"sqlite unique", errors.New("UNIQUE constraint failed: users.email"), true, DuplicateKeyErr},
		{"sqlite missing table", errors.New("SQL logic error: no such table: users (1)"), true, NoTableErr},
		{"sqlite not null", errors.New("NOT NULL constraint failed: users.name"), true, NotNullViolationErr},
		{"other", errors.New("boom"), false, UnknownErr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is, got := IsSqlError(tc.err)
			assert.Equal(t, tc.is, is)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Equal(t, "duplicate key", DuplicateKeyErr.String())
}

func TestQueryHookPrintsFailedQueries(t *testing.T) {
	clearDatabaseEnv(t)
	dm, err := Open(context.Background(), nil, nil)
	require.NoError(t, err)
	defer func() { _ = dm.Disconnect() }()

	var buf bytes.Buffer
	dm.GetDB().AddQueryHook(NewQueryHook(&buf, false))

	_, err = dm.GetDB().NewSelect().Model((*widget)(nil)).Count(context.Background())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "widgets")
	assert.Contains(t, buf.String(), "[BUN]")
}

func TestEnableQueryLogPrintsQueries(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DB_ENABLE_QUERY_LOG", "1")
	t.Setenv("DB_SLOW_QUERY_TIME", "2")

	var buf bytes.Buffer
	prev := queryLogOutput
	queryLogOutput = &buf
	t.Cleanup(func() { queryLogOutput = prev })

	dm := openSynced(t, nil, true)
	defer func() { _ = dm.Disconnect() }()
	assert.True(t, dm.Config().EnableQueryLog)
	assert.Equal(t, 2*time.Second, dm.Config().SlowQueryTime)

	insertWidget(t, dm, "alpha")
	assert.Equal(t, 1, countWidgets(t, dm))

	out := buf.String()
	assert.Contains(t, out, "CREATE TABLE")
	assert.Contains(t, out, `INSERT INTO "widgets"`)
	assert.Contains(t, out, "SELECT count(*)")
}

func TestQueryLogOffByDefault(t *testing.T) {
	clearDatabaseEnv(t)

	var buf bytes.Buffer
	prev := queryLogOutput
	queryLogOutput = &buf
	t.Cleanup(func() { queryLogOutput = prev })

	dm := openSynced(t, nil, true)
	defer func() { _ = dm.Disconnect() }()
	insertWidget(t, dm, "alpha")
	assert.Empty(t, buf.String())
}
