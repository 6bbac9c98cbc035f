package engine

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// timestampLayout keeps microsecond precision and the timezone offset, so values
// written and read through this engine round-trip exactly.
const timestampLayout = "2006-01-02 15:04:05.000000-07:00"

// MemoryTarget opens a private in-memory database instead of a file.
const MemoryTarget = ":memory:"

// SQLite is an embedded engine over a single dedicated connection. It is not safe
// for concurrent use, matching the Interface contract.
type SQLite struct {
	db   *sql.DB
	conn *sql.Conn
}

// OpenSQLite opens the database at target, or an in-memory one for MemoryTarget,
// and pins a single connection to serve as the native handle.
func OpenSQLite(ctx context.Context, target string) (*SQLite, error) {
	db, err := sql.Open("sqlite", target)
	if err != nil {
		return nil, fmt.Errorf("can't open sqlite database %q: %w", target, err)
	}
	db.SetMaxOpenConns(1) // the handle is a single connection, never a pool

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't acquire sqlite connection for %q: %w", target, err)
	}
	if err = conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("can't ping sqlite database %q: %w", target, err)
	}
	log.Printf("[DEBUG] sqlite engine opened, target: %s", target)
	return &SQLite{db: db, conn: conn}, nil
}

// Prepare compiles query on the pinned connection.
func (e *SQLite) Prepare(ctx context.Context, query string) (Statement, error) {
	stmt, err := e.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sql preparation error: %w", err)
	}
	return &sqliteStmt{stmt: stmt, query: query}, nil
}

// Begin starts a transaction. Issued as a literal statement on the pinned
// connection, deliberately bypassing database/sql transaction objects so the
// session layer stays in charge of transaction state.
func (e *SQLite) Begin(ctx context.Context) error { return e.control(ctx, "BEGIN") }

// Commit commits the current transaction.
func (e *SQLite) Commit(ctx context.Context) error { return e.control(ctx, "COMMIT") }

// Rollback aborts the current transaction.
func (e *SQLite) Rollback(ctx context.Context) error { return e.control(ctx, "ROLLBACK") }

func (e *SQLite) control(ctx context.Context, stmt string) error {
	if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sql execution error on %s: %w", stmt, err)
	}
	return nil
}

// Status reports engine liveness without mutating any state.
func (e *SQLite) Status(ctx context.Context) error {
	if err := e.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("engine not responding: %w", err)
	}
	return nil
}

// Close releases the pinned connection and the underlying database.
func (e *SQLite) Close() error {
	connErr := e.conn.Close()
	dbErr := e.db.Close()
	if connErr != nil {
		return fmt.Errorf("can't close sqlite connection: %w", connErr)
	}
	if dbErr != nil {
		return fmt.Errorf("can't close sqlite database: %w", dbErr)
	}
	return nil
}

type sqliteStmt struct {
	stmt  *sql.Stmt
	query string
}

// Execute binds params positionally and runs the statement, buffering the whole
// result. Statements producing no rows return an empty result.
func (s *sqliteStmt) Execute(ctx context.Context, params []Value) (*Result, error) {
	args := make([]any, 0, len(params))
	for i, p := range params {
		bound, err := bindValue(p)
		if err != nil {
			return nil, fmt.Errorf("can't bind parameter %d: %w", i+1, err)
		}
		args = append(args, bound)
	}

	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("sql execution error: %w", err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("can't get result columns: %w", err)
	}
	res := &Result{Columns: make([]Column, len(colTypes))}
	for i, ct := range colTypes {
		res.Columns[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		raw := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sql row processing error: %w", err)
		}
		row := make([]Value, len(raw))
		for i, v := range raw {
			row[i] = readValue(v, res.Columns[i].Type)
		}
		res.Rows = append(res.Rows, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sql row processing error: %w", err)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// Close releases the compiled statement.
func (s *sqliteStmt) Close() error {
	if err := s.stmt.Close(); err != nil {
		return fmt.Errorf("can't close statement: %w", err)
	}
	return nil
}

// bindValue converts a Value into a driver-friendly argument. Timestamps and dates
// go in as formatted text; sqlite has no native date types and the textual form is
// what readValue parses back by declared column type.
func bindValue(v Value) (any, error) {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return val, nil
	case int:
		return int64(val), nil
	case time.Time:
		return val.Format(timestampLayout), nil
	case Date:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// readValue converts a scanned driver value into the Value domain, using the
// declared column type to recover timestamps, dates and booleans.
func readValue(raw any, declType string) Value {
	decl := strings.ToUpper(declType)
	switch v := raw.(type) {
	case nil:
		return nil
	case int64:
		if decl == "BOOLEAN" || decl == "BOOL" {
			return v != 0
		}
		return v
	case float64:
		return v
	case string:
		return readText(v, decl)
	case []byte:
		if strings.Contains(decl, "CHAR") || strings.Contains(decl, "TEXT") ||
			strings.Contains(decl, "TIMESTAMP") || decl == "DATETIME" || decl == "DATE" {
			return readText(string(v), decl)
		}
		return base64.StdEncoding.EncodeToString(v)
	case bool:
		return v
	case time.Time:
		// the driver parses date-ish declared columns on its own
		if decl == "DATE" {
			return DateOf(v)
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func readText(s, decl string) Value {
	switch {
	case strings.Contains(decl, "TIMESTAMP") || decl == "DATETIME":
		if ts, err := time.Parse(timestampLayout, s); err == nil {
			return ts
		}
		return s
	case decl == "DATE":
		if d, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
			return DateOf(d)
		}
		return s
	default:
		return s
	}
}
