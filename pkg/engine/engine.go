// Package engine defines the narrow call surface of the embedded database engine
// and a sqlite-backed implementation. The engine handle is not safe for concurrent
// use; callers are expected to serialize access to it, which is what pkg/session does.
package engine

import (
	"context"
	"time"
)

// Interface is the seven-primitive surface of the wrapped engine.
// Implementations are not required to be thread-safe.
type Interface interface {
	Prepare(ctx context.Context, query string) (Statement, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Status(ctx context.Context) error
	Close() error
}

// Statement is a compiled statement handle returned by Prepare.
// Execute binds params positionally; param count mismatch is reported by the engine.
type Statement interface {
	Execute(ctx context.Context, params []Value) (*Result, error)
	Close() error
}

// Value is a typed cell or parameter. Allowed dynamic types: nil, bool, int64,
// float64, string, time.Time (microsecond timestamp with timezone) and Date.
type Value any

// Date is a calendar date as days since the unix epoch.
type Date int32

// Time returns the date as midnight UTC.
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, day := t.Date()
	days := time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Unix() / 86400
	return Date(days)
}

// Column describes one result column, name and engine-reported type.
type Column struct {
	Name string
	Type string
}

// Result is a fully-buffered query result. Row and column order are significant
// and preserved as produced by the engine.
type Result struct {
	Columns  []Column
	Rows     [][]Value
	RowCount int
}

