package session

import (
	"fmt"

	"github.com/go-pkgz/stringutils"

	"github.com/pondworks/pond/pkg/engine"
)

// Command is one request to the session worker. The set is closed: only the
// types below implement it, and the dispatcher matches them exhaustively.
// Commands are immutable once constructed.
type Command interface {
	fmt.Stringer
	isCommand()
}

// Prepare compiles SQL and caches it in a statement slot.
type Prepare struct {
	SQL string
}

// Execute runs an open statement with positional params.
type Execute struct {
	Slot   int
	Params []engine.Value
}

// Close releases an open statement and frees its slot.
type Close struct {
	Slot int
}

// Begin starts a transaction.
type Begin struct{}

// Commit commits the current transaction.
type Commit struct{}

// Rollback aborts the current transaction.
type Rollback struct{}

// Status checks engine liveness.
type Status struct{}

func (Prepare) isCommand()  {}
func (Execute) isCommand()  {}
func (Close) isCommand()    {}
func (Begin) isCommand()    {}
func (Commit) isCommand()   {}
func (Rollback) isCommand() {}
func (Status) isCommand()   {}

func (c Prepare) String() string  { return fmt.Sprintf("prepare %q", stringutils.Truncate(c.SQL, 80)) }
func (c Execute) String() string  { return fmt.Sprintf("execute slot %d, %d params", c.Slot, len(c.Params)) }
func (c Close) String() string    { return fmt.Sprintf("close slot %d", c.Slot) }
func (Begin) String() string      { return "begin" }
func (Commit) String() string     { return "commit" }
func (Rollback) String() string   { return "rollback" }
func (Status) String() string     { return "status" }
