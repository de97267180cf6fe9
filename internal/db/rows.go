package db

import (
	"database/sql"
	"encoding/base64"
	"time"
)

// DbValue is a dialect-neutral scan result: string, int64, float64, bool,
// []byte, time.Time, or nil. Drivers disagree on which Go type a given
// column scans to (e.g. SQLite returns int64 for booleans), so every row
// passes through normalize before reaching the component dispatcher.
type DbValue any

// Row is one result row, columns in projection order, matching
// StaticColumn's (Name, Value) shape so dispatch code can treat a Query row
// and a StaticRow identically.
type Row struct {
	Columns []string
	Values  []DbValue
}

// RowStream iterates a running query's results, converting driver-native
// scan targets to DbValue as it goes.
type RowStream struct {
	rows    *sql.Rows
	cols    []string
	scanBuf []any
	current Row
	err     error
}

func newRowStream(rows *sql.Rows) (*RowStream, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	buf := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range buf {
		ptrs[i] = &buf[i]
	}
	return &RowStream{rows: rows, cols: cols, scanBuf: ptrs}, nil
}

// Next advances to the next row, returning false at end of stream or on
// error (check Err afterward).
func (rs *RowStream) Next() bool {
	if !rs.rows.Next() {
		return false
	}
	if err := rs.rows.Scan(rs.scanBuf...); err != nil {
		rs.err = err
		return false
	}
	values := make([]DbValue, len(rs.cols))
	for i, ptr := range rs.scanBuf {
		values[i] = normalize(*(ptr.(*any)))
	}
	rs.current = Row{Columns: rs.cols, Values: values}
	return true
}

// Row returns the current row. Valid only after a true-returning Next.
func (rs *RowStream) Row() Row { return rs.current }

// Err returns the first error encountered by Next, if any.
func (rs *RowStream) Err() error {
	if rs.err != nil {
		return rs.err
	}
	return rs.rows.Err()
}

// Close releases the underlying *sql.Rows.
func (rs *RowStream) Close() error { return rs.rows.Close() }

// normalize maps driver-specific scan results onto the small DbValue type
// set: []byte becomes a copy (sql.Rows reuses its scan buffer), and
// time.Time passes through unchanged for callers to format per-column.
func normalize(v any) DbValue {
	switch x := v.(type) {
	case []byte:
		cp := make([]byte, len(x))
		copy(cp, x)
		return cp
	case time.Time:
		return x
	default:
		return x
	}
}

// DataURL renders a []byte value as a base64 data: URL, used by
// sqlpage.read_file_as_data_url and by image/blob columns rendered inline.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
