// Package cdc holds the data types shared by every source adapter, the
// pgoutput parser, the type mapper/renderer, and the steady-state engine:
// the value cell union, change records, and column/table descriptors.
package cdc

// CellKind tags the payload carried by a Cell.
type CellKind int

const (
	// Null is an explicit SQL NULL.
	Null CellKind = iota
	// Unchanged marks a TOASTed column omitted from a Postgres UPDATE
	// because its value did not change; it renders as the destination
	// column's default, never as NULL.
	Unchanged
	// Text carries a UTF-8 textual representation of the value.
	Text
	// Binary carries a raw byte payload (Postgres binary-format column).
	Binary
	// Native carries a Go-native scalar or document straight from a BSON
	// decode; only ever produced by the Mongo source adapter.
	Native
)

// Cell is the tagged union used uniformly across adapters to represent one
// column's value before it is rendered into a destination SQL literal by
// the type mapper. A cell is rendered to SQL exactly once, using the
// target column's declared type.
type Cell struct {
	Kind   CellKind
	Text   string
	Binary []byte
	Native any
}

// NullCell returns a Cell representing an explicit NULL.
func NullCell() Cell { return Cell{Kind: Null} }

// UnchangedCell returns a Cell representing an omitted TOAST column.
func UnchangedCell() Cell { return Cell{Kind: Unchanged} }

// TextCell returns a Cell carrying textual content.
func TextCell(s string) Cell { return Cell{Kind: Text, Text: s} }

// BinaryCell returns a Cell carrying raw bytes.
func BinaryCell(b []byte) Cell { return Cell{Kind: Binary, Binary: b} }

// NativeCell returns a Cell carrying a native Go/BSON value.
func NativeCell(v any) Cell {
	if v == nil {
		return NullCell()
	}
	return Cell{Kind: Native, Native: v}
}

// IsNull reports whether the cell should be treated as a SQL NULL when
// rendered against a nullable destination column.
func (c Cell) IsNull() bool {
	return c.Kind == Null
}
