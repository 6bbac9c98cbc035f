// Package session implements the single-writer actor owning one native engine
// handle and one statement-slot table. Arbitrarily many callers may submit
// commands concurrently; the worker executes them one at a time, which is the
// only thing making the non-reentrant engine handle safe to use.
//
// Per-caller submission order is preserved. Across callers contending for one
// session the order is queue arrival order with no fairness guarantee. There is
// no mid-command cancellation: a timed-out or abandoned command may still
// complete on the engine side.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/pondworks/pond/pkg/engine"
)

const (
	// DefaultCacheSize is the statement slot table capacity unless configured.
	DefaultCacheSize = 1024
	// DefaultSubmitTimeout bounds how long a caller waits for a command to complete.
	DefaultSubmitTimeout = 15 * time.Second
	// DefaultStopTimeout bounds session teardown.
	DefaultStopTimeout = 25 * time.Second
)

// Opts tune a session. Zero values fall back to the defaults above.
type Opts struct {
	CacheSize     int
	SubmitTimeout time.Duration
	StopTimeout   time.Duration
}

// Session serializes all access to one engine handle. Created with New, stopped
// with Close; both the slot table and the engine are owned exclusively by the
// internal worker goroutine.
type Session struct {
	id            string
	eng           engine.Interface
	slots         *slotTable
	submitTimeout time.Duration
	stopTimeout   time.Duration

	reqCh    chan request
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closeErr error // set by worker before done is closed

	inTx  atomic.Bool
	fatal error // worker-owned; once set every later command is refused
}

type request struct {
	cmd    Command
	respCh chan response
}

type response struct {
	value any
	err   error
}

// New starts a session worker owning eng. The caller must not touch eng
// afterwards; Close releases it.
func New(eng engine.Interface, opts Opts) *Session {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	s := &Session{
		id:            uuid.New().String(),
		eng:           eng,
		slots:         newSlotTable(opts.CacheSize),
		submitTimeout: opts.SubmitTimeout,
		stopTimeout:   opts.StopTimeout,
		reqCh:         make(chan request),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.worker()
	log.Printf("[DEBUG] session %s started, cache size %d", s.id, opts.CacheSize)
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// InTransaction reports the transaction flag as of the last completed command.
func (s *Session) InTransaction() bool { return s.inTx.Load() }

// Prepare compiles sql and returns its slot id. The error is *CacheExhaustedError
// when the slot table is full and *StatementError on an engine compile failure;
// the two are never conflated.
func (s *Session) Prepare(ctx context.Context, sql string) (int, error) {
	v, err := s.submit(ctx, Prepare{SQL: sql})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Execute runs the statement in slot with positional params.
func (s *Session) Execute(ctx context.Context, slot int, params []engine.Value) (*engine.Result, error) {
	v, err := s.submit(ctx, Execute{Slot: slot, Params: params})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Result), nil
}

// CloseStmt releases the statement in slot and frees the slot for reuse. Safe to
// call after a failed Execute on the same slot; callers are expected to always
// close what they prepared, success or not.
func (s *Session) CloseStmt(ctx context.Context, slot int) error {
	_, err := s.submit(ctx, Close{Slot: slot})
	return err
}

// Begin starts a transaction. Failure is fatal to the session.
func (s *Session) Begin(ctx context.Context) error {
	_, err := s.submit(ctx, Begin{})
	return err
}

// Commit commits the transaction. Failure is fatal to the session.
func (s *Session) Commit(ctx context.Context) error {
	_, err := s.submit(ctx, Commit{})
	return err
}

// Rollback aborts the transaction. Failure is fatal to the session.
func (s *Session) Rollback(ctx context.Context) error {
	_, err := s.submit(ctx, Rollback{})
	return err
}

// Status checks engine liveness without mutating any state.
func (s *Session) Status(ctx context.Context) error {
	_, err := s.submit(ctx, Status{})
	return err
}

// Close stops the worker, closing any statements still open and releasing the
// engine handle. The worker finishes the command it is on before stopping;
// waiting is bounded by the stop timeout.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
		return s.closeErr
	case <-time.After(s.stopTimeout):
		return fmt.Errorf("session %s teardown timed out after %v", s.id, s.stopTimeout)
	}
}

// submit queues cmd and waits for its completion. The wait is bounded by ctx and
// the submit timeout; on timeout the command is not cancelled and may still
// complete on the engine afterwards.
func (s *Session) submit(ctx context.Context, cmd Command) (any, error) {
	timer := time.NewTimer(s.submitTimeout)
	defer timer.Stop()

	respCh := make(chan response, 1) // buffered, worker reply never blocks
	select {
	case s.reqCh <- request{cmd: cmd, respCh: respCh}:
	case <-s.quit:
		return nil, fmt.Errorf("session %s: %w", s.id, ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("session %s: %s aborted: %w", s.id, cmd, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("session %s: %s timed out after %v", s.id, cmd, s.submitTimeout)
	}

	select {
	case resp := <-respCh:
		return resp.value, resp.err
	case <-s.done:
		return nil, fmt.Errorf("session %s: %w", s.id, ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("session %s: %s abandoned, may still complete: %w", s.id, cmd, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("session %s: %s timed out after %v, may still complete", s.id, cmd, s.submitTimeout)
	}
}

// worker is the single thread of control ever touching the engine handle and
// the slot table. One command per turn, next accepted only after the reply.
func (s *Session) worker() {
	for {
		select {
		case req := <-s.reqCh:
			req.respCh <- s.dispatch(req.cmd)
		case <-s.quit:
			s.closeErr = s.cleanup()
			close(s.done)
			return
		}
	}
}

func (s *Session) dispatch(cmd Command) response {
	if s.fatal != nil {
		return response{err: fmt.Errorf("session %s broken: %w", s.id, s.fatal)}
	}

	// command execution uses the background context: once dequeued a command
	// runs to completion, there is no mid-command cancellation
	ctx := context.Background()

	switch c := cmd.(type) {
	case Prepare:
		return s.prepare(ctx, c)
	case Execute:
		return s.execute(ctx, c)
	case Close:
		return s.closeStmt(c)
	case Begin:
		if err := s.eng.Begin(ctx); err != nil {
			return response{err: s.poison(&TransactionError{Cmd: c, Err: err})}
		}
		s.inTx.Store(true)
		return response{}
	case Commit:
		if err := s.eng.Commit(ctx); err != nil {
			return response{err: s.poison(&TransactionError{Cmd: c, Err: err})}
		}
		s.inTx.Store(false)
		return response{}
	case Rollback:
		if err := s.eng.Rollback(ctx); err != nil {
			return response{err: s.poison(&TransactionError{Cmd: c, Err: err})}
		}
		s.inTx.Store(false)
		return response{}
	case Status:
		return response{err: s.eng.Status(ctx)}
	default:
		log.Printf("[WARN] session %s got unsupported command %s", s.id, cmd)
		return response{err: &ProtocolError{Cmd: cmd}}
	}
}

func (s *Session) prepare(ctx context.Context, c Prepare) response {
	stmt, err := s.eng.Prepare(ctx, c.SQL)
	if err != nil {
		return response{err: &StatementError{Cmd: c, Err: err}}
	}
	slot, ok := s.slots.allocate(stmt)
	if !ok {
		if cerr := stmt.Close(); cerr != nil {
			log.Printf("[WARN] session %s: can't drop statement on exhausted cache: %v", s.id, cerr)
		}
		return response{err: &CacheExhaustedError{Capacity: len(s.slots.entries)}}
	}
	log.Printf("[DEBUG] session %s prepared slot %d", s.id, slot)
	return response{value: slot}
}

func (s *Session) execute(ctx context.Context, c Execute) response {
	stmt, ok := s.slots.lookup(c.Slot)
	if !ok {
		return response{err: &StatementError{Cmd: c, Err: ErrSlotNotFound}}
	}
	res, err := stmt.Execute(ctx, c.Params)
	if err != nil {
		return response{err: &StatementError{Cmd: c, Err: err}}
	}
	return response{value: res}
}

// closeStmt frees the slot even if the engine-side close fails; a slot must
// never stay occupied by a dead statement.
func (s *Session) closeStmt(c Close) response {
	stmt, ok := s.slots.lookup(c.Slot)
	if !ok {
		return response{err: &StatementError{Cmd: c, Err: ErrSlotNotFound}}
	}
	closeErr := stmt.Close()
	if err := s.slots.release(c.Slot); err != nil {
		return response{err: &StatementError{Cmd: c, Err: err}}
	}
	if closeErr != nil {
		return response{err: &StatementError{Cmd: c, Err: closeErr}}
	}
	return response{}
}

// poison records the first fatal error; every later command gets it back.
func (s *Session) poison(err error) error {
	log.Printf("[WARN] session %s poisoned: %v", s.id, err)
	s.fatal = err
	return err
}

// cleanup closes whatever statements are still open and releases the engine.
func (s *Session) cleanup() error {
	errs := new(multierror.Error)
	open := s.slots.drain()
	for _, stmt := range open {
		if err := stmt.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if len(open) > 0 {
		log.Printf("[DEBUG] session %s closed %d leftover statements", s.id, len(open))
	}
	if err := s.eng.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	log.Printf("[DEBUG] session %s stopped", s.id)
	return errs.ErrorOrNil()
}
