package session

import (
	"errors"
	"fmt"
)

// ErrSlotNotFound reports an unknown or already-closed statement slot.
var ErrSlotNotFound = errors.New("statement slot not found")

// ErrClosed reports a command submitted to a stopped session.
var ErrClosed = errors.New("session closed")

// ConnectionError means the engine could not be opened; the connect attempt
// fails outright.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("can't connect to %q: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatementError is an engine-reported failure of prepare, execute or close.
// Recoverable: the session stays usable. Carries the originating command.
type StatementError struct {
	Cmd Command
	Err error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement error on %s: %v", e.Cmd, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// CacheExhaustedError is the distinguished prepare outcome when no free slot
// exists. Never conflated with StatementError: callers can close unused
// statements and retry.
type CacheExhaustedError struct {
	Capacity int
}

func (e *CacheExhaustedError) Error() string {
	return fmt.Sprintf("prepared statements cache exhausted, capacity %d", e.Capacity)
}

// TransactionError is a begin/commit/rollback failure. Fatal: the session is no
// longer trustworthy and must be discarded by the pool.
type TransactionError struct {
	Cmd Command
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error on %s: %v", e.Cmd, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ProtocolError reports a command outside the supported set. Indicates a caller
// bug; such commands never reach the engine.
type ProtocolError struct {
	Cmd Command
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("command not supported: %s", e.Cmd)
}

// Fatal reports if err poisons the whole session, i.e. the pooling framework
// should discard it and reconnect. Statement-level and exhaustion errors are
// recoverable and return false.
func Fatal(err error) bool {
	var te *TransactionError
	var ce *ConnectionError
	return errors.As(err, &te) || errors.As(err, &ce)
}
