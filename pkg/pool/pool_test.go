package pool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondworks/pond/pkg/config"
	"github.com/pondworks/pond/pkg/engine"
	"github.com/pondworks/pond/pkg/secrets"
	"github.com/pondworks/pond/pkg/session"
)

func TestConnector_Connect(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Database: engine.MemoryTarget, CacheSize: 8}

	conn, err := NewConnector().Connect(ctx, cfg, nil)
	require.NoError(t, err)
	defer conn.Disconnect() // nolint

	require.NoError(t, conn.Checkout(ctx))
	require.NoError(t, conn.Ping(ctx))
	require.NoError(t, conn.Status(ctx))
	assert.NotEmpty(t, conn.Session().ID())

	slot, err := conn.Prepare(ctx, "SELECT 42")
	require.NoError(t, err)
	res, err := conn.Execute(ctx, slot, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Rows[0][0])
	require.NoError(t, conn.CloseStmt(ctx, slot))

	require.NoError(t, conn.Disconnect())
}

func TestConnector_ConnectReplaysSetup(t *testing.T) {
	ctx := context.Background()
	fake := &recordingEngine{}
	cn := &Connector{Open: func(context.Context, string) (engine.Interface, error) { return fake, nil }}

	cfg := &config.Config{
		Database: "analytics.db",
		Secrets: []config.Secret{{Name: "aws", Type: "s3",
			Options: map[string]string{"key_id": "secret://k"}}},
		Attachments:     []config.Attachment{{Path: "/d/sales.db", Alias: "sales"}},
		Settings:        []config.Setting{{Name: "threads", Value: "4"}},
		DefaultDatabase: "sales",
	}
	sp := secrets.NewMemoryProvider(map[string]string{"k": "AKIA1"})

	conn, err := cn.Connect(ctx, cfg, sp)
	require.NoError(t, err)
	defer conn.Disconnect() // nolint

	want := []string{
		"CREATE OR REPLACE SECRET aws (TYPE s3, KEY_ID 'AKIA1')",
		"ATTACH '/d/sales.db' AS sales",
		"SET threads = 4",
		"USE sales",
	}
	assert.Equal(t, want, fake.executed, "setup replayed in order")
	assert.Equal(t, len(want), fake.closedStmts, "every setup statement closed")
}

func TestConnector_SetupFailureAborts(t *testing.T) {
	ctx := context.Background()
	fake := &recordingEngine{failExec: "ATTACH"}
	cn := &Connector{Open: func(context.Context, string) (engine.Interface, error) { return fake, nil }}

	cfg := &config.Config{
		Database:    "analytics.db",
		Attachments: []config.Attachment{{Path: "/d/missing.db", Alias: "m"}},
	}

	_, err := cn.Connect(ctx, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup failed")
	assert.True(t, fake.closedEngine, "aborted connect releases the engine")
	assert.Equal(t, 1, fake.closedStmts, "failed statement still closed")
}

func TestConnector_OpenFailure(t *testing.T) {
	cn := &Connector{Open: func(context.Context, string) (engine.Interface, error) {
		return nil, fmt.Errorf("no such file")
	}}

	_, err := cn.Connect(context.Background(), &config.Config{Database: "gone.db"}, nil)
	require.Error(t, err)
	var connErr *session.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, Fatal(err))
}

func TestConn_DeclareFetch(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Database: engine.MemoryTarget}

	conn, err := NewConnector().Connect(ctx, cfg, nil)
	require.NoError(t, err)
	defer conn.Disconnect() // nolint

	for _, stmt := range []string{
		"CREATE TABLE t (n INTEGER)",
		"INSERT INTO t VALUES (1)",
		"INSERT INTO t VALUES (2)",
	} {
		slot, err := conn.Prepare(ctx, stmt)
		require.NoError(t, err)
		_, err = conn.Execute(ctx, slot, nil)
		require.NoError(t, err)
		require.NoError(t, conn.CloseStmt(ctx, slot))
	}

	slot, err := conn.Prepare(ctx, "SELECT n FROM t ORDER BY n")
	require.NoError(t, err)
	cur, err := conn.Declare(ctx, slot, nil)
	require.NoError(t, err)

	res, ok := cur.Fetch()
	require.True(t, ok)
	assert.Equal(t, 2, res.RowCount)

	_, ok = cur.Fetch()
	assert.False(t, ok, "cursor exhausted after one fetch")

	require.NoError(t, conn.CloseStmt(ctx, slot))
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(&session.TransactionError{Cmd: session.Commit{}, Err: fmt.Errorf("boom")}))
	assert.True(t, Fatal(&session.ConnectionError{Target: "x", Err: fmt.Errorf("boom")}))
	assert.False(t, Fatal(&session.StatementError{Cmd: session.Prepare{}, Err: fmt.Errorf("boom")}))
	assert.False(t, Fatal(&session.CacheExhaustedError{Capacity: 4}))
	assert.False(t, Fatal(nil))
}

// recordingEngine tracks everything the adapter does with it.
type recordingEngine struct {
	executed     []string
	closedStmts  int
	closedEngine bool
	failExec     string // substring failing the matching statement's execute
}

func (f *recordingEngine) Prepare(_ context.Context, query string) (engine.Statement, error) {
	return &recordingStmt{eng: f, query: query}, nil
}

func (f *recordingEngine) Begin(context.Context) error    { return nil }
func (f *recordingEngine) Commit(context.Context) error   { return nil }
func (f *recordingEngine) Rollback(context.Context) error { return nil }
func (f *recordingEngine) Status(context.Context) error   { return nil }

func (f *recordingEngine) Close() error {
	f.closedEngine = true
	return nil
}

type recordingStmt struct {
	eng   *recordingEngine
	query string
}

func (s *recordingStmt) Execute(context.Context, []engine.Value) (*engine.Result, error) {
	if s.eng.failExec != "" && strings.Contains(s.query, s.eng.failExec) {
		return nil, fmt.Errorf("forced failure on %q", s.query)
	}
	s.eng.executed = append(s.eng.executed, s.query)
	return &engine.Result{}, nil
}

func (s *recordingStmt) Close() error {
	s.eng.closedStmts++
	return nil
}
