// Package pool implements the lifecycle contract an external connection-pooling
// framework drives: connect, checkout, ping, disconnect, prepare,
// declare/execute/fetch, close, transaction control and status. The adapter
// holds no engine state of its own; everything goes through the session, which
// is the exclusive owner of the engine handle.
package pool

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/pondworks/pond/pkg/config"
	"github.com/pondworks/pond/pkg/engine"
	"github.com/pondworks/pond/pkg/secrets"
	"github.com/pondworks/pond/pkg/session"
	"github.com/pondworks/pond/pkg/setup"
)

// Connector opens engines for new sessions. Open is swappable so tests can
// inject failing or recording engines.
type Connector struct {
	Open func(ctx context.Context, target string) (engine.Interface, error)
}

// NewConnector returns a Connector backed by the embedded sqlite engine.
func NewConnector() *Connector {
	return &Connector{
		Open: func(ctx context.Context, target string) (engine.Interface, error) {
			return engine.OpenSQLite(ctx, target)
		},
	}
}

// Conn is one pooled session as the pooling framework sees it.
type Conn struct {
	sess *session.Session
}

// Connect opens the engine, starts a session and replays all configured setup
// actions through the ordinary prepare/execute/close sequence. Any setup
// failure aborts connection establishment and tears the session down.
func (cn *Connector) Connect(ctx context.Context, cfg *config.Config, sp secrets.Provider) (*Conn, error) {
	eng, err := cn.Open(ctx, cfg.Database)
	if err != nil {
		return nil, &session.ConnectionError{Target: cfg.Database, Err: err}
	}

	sess := session.New(eng, session.Opts{
		CacheSize:     cfg.CacheSize,
		SubmitTimeout: time.Duration(cfg.SubmitTimeout),
		StopTimeout:   time.Duration(cfg.StopTimeout),
	})

	stmts, err := setup.Statements(cfg, sp)
	if err != nil {
		return nil, abortConnect(sess, err)
	}
	for _, stmt := range stmts {
		if err = runSetup(ctx, sess, stmt); err != nil {
			return nil, abortConnect(sess, fmt.Errorf("setup failed: %w", err))
		}
	}
	log.Printf("[INFO] session %s connected to %q, %d setup statements replayed", sess.ID(), cfg.Database, len(stmts))
	return &Conn{sess: sess}, nil
}

// runSetup executes one setup statement via prepare/execute/close, releasing
// the slot on every exit path.
func runSetup(ctx context.Context, sess *session.Session, stmt string) error {
	slot, err := sess.Prepare(ctx, stmt)
	if err != nil {
		return err
	}
	_, execErr := sess.Execute(ctx, slot, nil)
	if closeErr := sess.CloseStmt(ctx, slot); closeErr != nil && execErr == nil {
		return closeErr
	}
	return execErr
}

func abortConnect(sess *session.Session, err error) error {
	errs := multierror.Append(new(multierror.Error), err)
	if closeErr := sess.Close(); closeErr != nil {
		errs = multierror.Append(errs, closeErr)
	}
	return errs.ErrorOrNil()
}

// Session exposes the underlying session, mainly for its id.
func (c *Conn) Session() *session.Session { return c.sess }

// Checkout is called when the pool hands the connection to a caller. There is
// no protocol state to validate beyond the session existing.
func (c *Conn) Checkout(context.Context) error { return nil }

// Ping reports engine liveness, used for pool health checks.
func (c *Conn) Ping(ctx context.Context) error { return c.sess.Status(ctx) }

// Disconnect stops the session, releasing the engine handle. Must not be called
// concurrently with in-flight commands the caller still cares about.
func (c *Conn) Disconnect() error { return c.sess.Close() }

// Prepare compiles sql into a statement slot.
func (c *Conn) Prepare(ctx context.Context, sql string) (int, error) {
	return c.sess.Prepare(ctx, sql)
}

// Execute runs an open statement with positional params.
func (c *Conn) Execute(ctx context.Context, slot int, params []engine.Value) (*engine.Result, error) {
	return c.sess.Execute(ctx, slot, params)
}

// CloseStmt releases a statement slot.
func (c *Conn) CloseStmt(ctx context.Context, slot int) error {
	return c.sess.CloseStmt(ctx, slot)
}

// Begin starts a transaction; failure means the session must be discarded.
func (c *Conn) Begin(ctx context.Context) error { return c.sess.Begin(ctx) }

// Commit commits the transaction; failure means the session must be discarded.
func (c *Conn) Commit(ctx context.Context) error { return c.sess.Commit(ctx) }

// Rollback aborts the transaction; failure means the session must be discarded.
func (c *Conn) Rollback(ctx context.Context) error { return c.sess.Rollback(ctx) }

// Status reports engine liveness.
func (c *Conn) Status(ctx context.Context) error { return c.sess.Status(ctx) }

// Fatal reports if err requires the pooling framework to discard the session
// and reconnect. Statement and cache-exhaustion errors are recoverable.
func Fatal(err error) bool { return session.Fatal(err) }
