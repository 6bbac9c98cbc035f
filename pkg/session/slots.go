package session

import (
	"fmt"

	"github.com/pondworks/pond/pkg/engine"
)

// slotTable is a fixed-capacity table of open prepared statements. Allocation
// always picks the lowest-numbered free slot, so closing slot k and preparing
// again yields k. Owned and mutated only by the session worker.
type slotTable struct {
	entries []engine.Statement // nil entry means the slot is free
	used    int
}

func newSlotTable(capacity int) *slotTable {
	return &slotTable{entries: make([]engine.Statement, capacity)}
}

// allocate stores stmt in the lowest free slot. Returns false when the table is
// full; the caller turns that into the exhaustion outcome, not a generic error.
func (t *slotTable) allocate(stmt engine.Statement) (int, bool) {
	if t.used == len(t.entries) {
		return 0, false
	}
	for i, e := range t.entries {
		if e == nil {
			t.entries[i] = stmt
			t.used++
			return i, true
		}
	}
	return 0, false // unreachable while used is tracked correctly
}

// lookup resolves a slot id to its statement.
func (t *slotTable) lookup(id int) (engine.Statement, bool) {
	if id < 0 || id >= len(t.entries) || t.entries[id] == nil {
		return nil, false
	}
	return t.entries[id], true
}

// release frees a slot. Releasing a free or out-of-range slot is a programming
// error and fails instead of being silently ignored.
func (t *slotTable) release(id int) error {
	if id < 0 || id >= len(t.entries) {
		return fmt.Errorf("slot %d out of range [0, %d)", id, len(t.entries))
	}
	if t.entries[id] == nil {
		return fmt.Errorf("slot %d released twice", id)
	}
	t.entries[id] = nil
	t.used--
	return nil
}

// drain empties the table and returns all statements that were still open,
// lowest slot first. Used on session teardown.
func (t *slotTable) drain() []engine.Statement {
	var open []engine.Statement
	for i, e := range t.entries {
		if e != nil {
			open = append(open, e)
			t.entries[i] = nil
		}
	}
	t.used = 0
	return open
}

func (t *slotTable) free() int { return len(t.entries) - t.used }
