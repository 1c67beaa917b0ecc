package warehouse

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
)

// ColumnType is the wire type of a result column.
type ColumnType int

const (
	ColString ColumnType = iota
	ColInt
	ColFloat
	ColBool
)

// Column describes one result column.
type Column struct {
	Name string
	Type ColumnType
}

// Table is a finite, column-typed query result. Cells are nullable; a nil
// cell is a warehouse NULL. Rows() returns a forward-only iterator, so the
// result is consumed once and callers that need a second pass keep their
// own accumulators.
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]any
}

// NewTable creates an empty table with the given columns.
func NewTable(cols []Column) *Table {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c.Name] = i
	}
	return &Table{cols: cols, index: idx}
}

// AppendRow adds a row. The value count must match the column count.
func (t *Table) AppendRow(vals []any) error {
	if len(vals) != len(t.cols) {
		return eris.Errorf("warehouse: row has %d values, table has %d columns", len(vals), len(t.cols))
	}
	t.rows = append(t.rows, vals)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the column descriptors in result order.
func (t *Table) Columns() []Column { return t.cols }

// Col returns the index of a named column.
func (t *Table) Col(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Rows returns a fresh forward-only iterator over the table.
func (t *Table) Rows() *RowIter {
	return &RowIter{t: t, i: -1}
}

// RowIter iterates a table front to back.
type RowIter struct {
	t *Table
	i int
}

// Next advances the iterator; false when exhausted.
func (it *RowIter) Next() bool {
	it.i++
	return it.i < len(it.t.rows)
}

// Row returns the current row.
func (it *RowIter) Row() Row {
	return Row{t: it.t, vals: it.t.rows[it.i]}
}

// Row is one table row with typed, null-aware accessors. Each accessor
// returns ok=false for a NULL cell or an out-of-range index.
type Row struct {
	t    *Table
	vals []any
}

// String returns the cell at idx as a string.
func (r Row) String(idx int) (string, bool) {
	v, ok := r.cell(idx)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the cell at idx as an int64.
func (r Row) Int(idx int) (int64, bool) {
	v, ok := r.cell(idx)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// Float returns the cell at idx as a float64.
func (r Row) Float(idx int) (float64, bool) {
	v, ok := r.cell(idx)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Bool returns the cell at idx as a bool.
func (r Row) Bool(idx int) (bool, bool) {
	v, ok := r.cell(idx)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (r Row) cell(idx int) (any, bool) {
	if idx < 0 || idx >= len(r.vals) || r.vals[idx] == nil {
		return nil, false
	}
	return r.vals[idx], true
}

// normalizeValue collapses the driver's scan types onto the four table
// types: string, int64, float64, bool. NULL stays nil.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	case time.Time:
		return n.Format(time.RFC3339)
	case pgtype.Numeric:
		// Binary-format numeric columns, including derived expressions
		// like borrower_income_pct, decode to pgtype.Numeric.
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return n
	}
}
