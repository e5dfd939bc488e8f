package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite runs queries against a read-only SQLite log database. Each scenario
// gets its own instance.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path read-only.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an existing handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Execute runs query and stringifies every cell.
func (s *SQLite) Execute(ctx context.Context, query string) Result {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return classify(err)
	}

	var out [][]string
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return classify(err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = cell(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return classify(err)
	}
	return Rows(cols, out)
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func classify(err error) Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return Failed(ErrorKindBackend, "%v", err)
	}
	return Failed(ErrorKindQuery, "%v", err)
}

func cell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
