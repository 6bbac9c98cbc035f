package pool

import (
	"context"

	"github.com/pondworks/pond/pkg/engine"
)

// Cursor carries a buffered result between declare and fetch. The engine has
// no incremental cursors, so declare executes eagerly and the first fetch
// returns the whole result; the cursor is caller-held state, keeping the
// adapter stateless with respect to the engine.
type Cursor struct {
	res  *engine.Result
	done bool
}

// Declare executes the statement in slot and wraps the result in a cursor.
func (c *Conn) Declare(ctx context.Context, slot int, params []engine.Value) (*Cursor, error) {
	res, err := c.sess.Execute(ctx, slot, params)
	if err != nil {
		return nil, err
	}
	return &Cursor{res: res}, nil
}

// Fetch returns the buffered result once; subsequent calls report exhaustion.
func (cur *Cursor) Fetch() (*engine.Result, bool) {
	if cur.done {
		return nil, false
	}
	cur.done = true
	return cur.res, true
}
