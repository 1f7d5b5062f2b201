package windsor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ColumnKind is the storage type of a table column.
type ColumnKind int

const (
	KindValue ColumnKind = iota
	KindNumber
	KindDate
)

var kindNames = map[ColumnKind]string{
	KindValue:  "value",
	KindNumber: "number",
	KindDate:   "date",
}

func (k ColumnKind) String() string { return kindNames[k] }

const dateLayout = "2006-01-02"

// Date is a calendar date that may be missing (Valid=false) when upstream
// sent something unparseable.
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a valid Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(dateLayout)
}

// MarshalJSON encodes the date as "YYYY-MM-DD" or null.
func (d Date) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(dateLayout))
}

// UnmarshalJSON accepts "YYYY-MM-DD" or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = parseDate(s)
	return nil
}

// Column is one row-aligned column. Only the slice matching Kind is populated.
type Column struct {
	Name    string
	Kind    ColumnKind
	Numbers []float64
	Dates   []Date
	Values  []interface{}
}

// Len returns the number of cells in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case KindNumber:
		return len(c.Numbers)
	case KindDate:
		return len(c.Dates)
	default:
		return len(c.Values)
	}
}

// Value returns cell i as float64, Date (nil when missing) or the raw value.
func (c *Column) Value(i int) interface{} {
	switch c.Kind {
	case KindNumber:
		return c.Numbers[i]
	case KindDate:
		if !c.Dates[i].Valid {
			return nil
		}
		return c.Dates[i]
	default:
		return c.Values[i]
	}
}

func (c *Column) appendZero(n int) {
	for i := 0; i < n; i++ {
		switch c.Kind {
		case KindNumber:
			c.Numbers = append(c.Numbers, 0)
		case KindDate:
			c.Dates = append(c.Dates, Date{})
		default:
			c.Values = append(c.Values, nil)
		}
	}
}

func (c *Column) appendFrom(src *Column) {
	if src.Kind != c.Kind {
		c.toValues()
	}
	switch c.Kind {
	case KindNumber:
		c.Numbers = append(c.Numbers, src.Numbers...)
	case KindDate:
		c.Dates = append(c.Dates, src.Dates...)
	default:
		for i := 0; i < src.Len(); i++ {
			c.Values = append(c.Values, src.Value(i))
		}
	}
}

// toValues converts a typed column into a generic value column.
func (c *Column) toValues() {
	if c.Kind == KindValue {
		return
	}
	values := make([]interface{}, c.Len())
	for i := range values {
		values[i] = c.Value(i)
	}
	c.Kind, c.Values, c.Numbers, c.Dates = KindValue, values, nil, nil
}

// toNumbers coerces the column to float64 in place.
func (c *Column) toNumbers() {
	if c.Kind == KindNumber {
		return
	}
	numbers := make([]float64, c.Len())
	for i := range numbers {
		numbers[i] = toFloat(c.Value(i))
	}
	c.Kind, c.Numbers, c.Values, c.Dates = KindNumber, numbers, nil, nil
}

// Table is a column-oriented metric table.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

func newTable(rows int) *Table {
	return &Table{index: make(map[string]int), rows: rows}
}

func (t *Table) add(c *Column) {
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
}

// NewEmptyTable returns a zero-row table carrying the given columns.
func NewEmptyTable(fields []string, numeric map[string]bool) *Table {
	t := newTable(0)
	for _, name := range fields {
		if _, dup := t.index[name]; dup {
			continue
		}
		t.add(&Column{Name: name, Kind: kindFor(name, numeric)})
	}
	return t
}

// NewTableFromRows builds a table from upstream row objects. Columns follow
// the requested field order; fields absent from every row are left out and
// unrequested keys are appended in sorted order.
func NewTableFromRows(rows []map[string]interface{}, fields []string, numeric map[string]bool) *Table {
	t := newTable(len(rows))
	for _, name := range columnOrder(rows, fields) {
		col := &Column{Name: name, Kind: kindFor(name, numeric)}
		switch col.Kind {
		case KindNumber:
			col.Numbers = make([]float64, len(rows))
			for i, row := range rows {
				col.Numbers[i] = toFloat(row[name])
			}
		case KindDate:
			col.Dates = make([]Date, len(rows))
			for i, row := range rows {
				col.Dates[i] = dateFromAny(row[name])
			}
		default:
			col.Values = make([]interface{}, len(rows))
			for i, row := range rows {
				col.Values[i] = row[name]
			}
		}
		t.add(col)
	}
	return t
}

func kindFor(name string, numeric map[string]bool) ColumnKind {
	switch {
	case numeric[name]:
		return KindNumber
	case name == "date":
		return KindDate
	default:
		return KindValue
	}
}

func columnOrder(rows []map[string]interface{}, fields []string) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	order := make([]string, 0, len(seen))
	for _, f := range fields {
		if seen[f] {
			order = append(order, f)
			delete(seen, f)
		}
	}
	extra := make([]string, 0, len(seen))
	for k := range seen {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return t.rows == 0 }

// Columns returns column names in table order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Numbers returns the float64 cells of a numeric column, or nil.
func (t *Table) Numbers(name string) []float64 {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindNumber {
		return nil
	}
	return c.Numbers
}

// Dates returns the cells of a date column, or nil.
func (t *Table) Dates(name string) []Date {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindDate {
		return nil
	}
	return c.Dates
}

// Records returns the table as row objects, for JSON consumers.
func (t *Table) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, t.rows)
	for i := range out {
		rec := make(map[string]interface{}, len(t.columns))
		for _, c := range t.columns {
			rec[c.Name] = c.Value(i)
		}
		out[i] = rec
	}
	return out
}

// RenameColumns renames columns using from→to. A rename onto an existing
// column name is skipped.
func (t *Table) RenameColumns(mapping map[string]string) {
	for from, to := range mapping {
		i, ok := t.index[from]
		if !ok || from == to || t.Has(to) {
			continue
		}
		delete(t.index, from)
		t.columns[i].Name = to
		t.index[to] = i
	}
}

// DropColumns removes the named columns if present.
func (t *Table) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := t.columns[:0]
	for _, c := range t.columns {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	t.columns = kept
	t.index = make(map[string]int, len(kept))
	for i, c := range kept {
		t.index[c.Name] = i
	}
}

// Concat stacks tables vertically. The result has the union of all columns;
// cells a table did not carry are zero, missing date or nil.
func Concat(tables ...*Table) *Table {
	out := newTable(0)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.columns {
			if !out.Has(c.Name) {
				out.add(&Column{Name: c.Name, Kind: c.Kind})
			}
		}
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range out.columns {
			if src, ok := t.Column(c.Name); ok {
				c.appendFrom(src)
			} else {
				c.appendZero(t.rows)
			}
		}
		out.rows += t.rows
	}
	return out
}

type wireColumn struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Numbers []float64     `json:"numbers,omitempty"`
	Dates   []Date        `json:"dates,omitempty"`
	Values  []interface{} `json:"values,omitempty"`
}

type wireTable struct {
	Rows    int          `json:"rows"`
	Columns []wireColumn `json:"columns"`
}

// MarshalJSON encodes the table column-wise, preserving column kinds.
func (t *Table) MarshalJSON() ([]byte, error) {
	w := wireTable{Rows: t.rows, Columns: make([]wireColumn, len(t.columns))}
	for i, c := range t.columns {
		w.Columns[i] = wireColumn{
			Name:    c.Name,
			Kind:    c.Kind.String(),
			Numbers: c.Numbers,
			Dates:   c.Dates,
			Values:  c.Values,
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the MarshalJSON format.
func (t *Table) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var w wireTable
	if err := dec.Decode(&w); err != nil {
		return err
	}
	out := newTable(w.Rows)
	for _, wc := range w.Columns {
		c := &Column{Name: wc.Name}
		switch wc.Kind {
		case "number":
			c.Kind, c.Numbers = KindNumber, wc.Numbers
		case "date":
			c.Kind, c.Dates = KindDate, wc.Dates
		case "value":
			c.Kind, c.Values = KindValue, wc.Values
		default:
			return fmt.Errorf("column %q: unknown kind %q", wc.Name, wc.Kind)
		}
		if c.Len() != w.Rows {
			return fmt.Errorf("column %q: %d cells for %d rows", wc.Name, c.Len(), w.Rows)
		}
		out.add(c)
	}
	*t = *out
	return nil
}
