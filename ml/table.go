package ml

import "fmt"

// Table is a small row-major frame with named columns.
type Table struct {
	Columns []string
	Rows    [][]Value
}

func NewTable(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) Append(row []Value) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrMissingColumn, name)
}

// Select returns the given columns of every row, in the requested order.
func (t *Table) Select(columns []string) ([][]Value, error) {
	idx := make([]int, len(columns))
	for i, name := range columns {
		j, err := t.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	out := make([][]Value, len(t.Rows))
	for r, row := range t.Rows {
		sel := make([]Value, len(idx))
		for i, j := range idx {
			sel[i] = row[j]
		}
		out[r] = sel
	}
	return out, nil
}

// Subset returns a new table holding the rows at the given indices. Row
// slices are shared with the receiver.
func (t *Table) Subset(indices []int) *Table {
	sub := &Table{Columns: t.Columns, Rows: make([][]Value, len(indices))}
	for i, idx := range indices {
		sub.Rows[i] = t.Rows[idx]
	}
	return sub
}

// RowFromFields builds a single-row table in the given column order. Every
// column must be present in fields.
func RowFromFields(columns []string, fields Fields) (*Table, error) {
	row := make([]Value, len(columns))
	var missing []string
	for i, name := range columns {
		v, ok := fields[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		row[i] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn, missing)
	}
	t := NewTable(columns)
	t.Rows = append(t.Rows, row)
	return t, nil
}
