package chtype

import (
	"fmt"
	"strings"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

// TableOptions carries the per-table ClickHouse tuning knobs consulted by
// the DDL builders (index_granularity, merge-forcing age, storage policy).
type TableOptions struct {
	IndexGranularity          int
	MinAgeToForceMergeSeconds int
	StoragePolicy             string
}

// CreateTable builds a CREATE TABLE statement for database.table from the
// source column descriptors. ORDER BY is omitted entirely when no column
// is a primary key.
func CreateTable(database, table string, columns []cdc.SourceColumn, opts TableOptions, comment string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s(", database, table)

	defs := make([]string, len(columns))
	var pkNames []string
	for i, col := range columns {
		chType := PostgresToClickHouse(col.NativeType, col.Nullable)
		defs[i] = fmt.Sprintf("`%s` %s COMMENT '%s'", col.Name, chType, escapeString(col.Comment))
		if col.PrimaryKey {
			pkNames = append(pkNames, col.Name)
		}
	}
	b.WriteString(strings.Join(defs, ", \n"))
	b.WriteString(")")
	b.WriteString(" ENGINE = ReplacingMergeTree()\n")

	if len(pkNames) > 0 {
		fmt.Fprintf(&b, "ORDER BY (%s)\n", strings.Join(pkNames, ", "))
	}

	b.WriteString("SETTINGS\n")
	fmt.Fprintf(&b, "index_granularity = %d\n", opts.IndexGranularity)
	fmt.Fprintf(&b, ", min_age_to_force_merge_seconds = %d\n", opts.MinAgeToForceMergeSeconds)
	if opts.StoragePolicy != "" {
		fmt.Fprintf(&b, ", storage_policy = '%s'\n", escapeString(opts.StoragePolicy))
	}
	fmt.Fprintf(&b, "COMMENT '%s'\n", escapeString(comment))
	b.WriteString(";")

	return neutralizePlaceholders(b.String())
}

// AddColumn builds an ALTER TABLE ... ADD COLUMN statement for one new
// source column.
func AddColumn(database, table string, col cdc.SourceColumn) string {
	chType := PostgresToClickHouse(col.NativeType, col.Nullable)
	stmt := fmt.Sprintf("ALTER TABLE %s.%s ADD COLUMN `%s` %s COMMENT '%s';",
		database, table, col.Name, chType, escapeString(col.Comment))
	return neutralizePlaceholders(stmt)
}

// InsertRow is one row's named cells, ready to be rendered against the
// destination's column set.
type InsertRow struct {
	Values map[string]cdc.Cell
}

// Insert builds a single multi-row INSERT statement covering every row.
// The column set is the destination column list; a row missing a
// destination column renders that column's default value. Returns "" if
// rows is empty, so callers can skip execution.
func Insert(database, table string, sinkColumns []cdc.SinkColumn, maskColumns map[string]bool, rows []InsertRow) string {
	if len(rows) == 0 {
		return ""
	}

	names := make([]string, len(sinkColumns))
	for i, c := range sinkColumns {
		names[i] = c.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s (%s) VALUES", database, table, strings.Join(names, ", "))

	rowLiterals := make([]string, len(rows))
	for r, row := range rows {
		vals := make([]string, len(sinkColumns))
		for i, col := range sinkColumns {
			cell, ok := row.Values[col.Name]
			if !ok {
				vals[i] = DefaultValue(col.DataType)
				continue
			}
			if maskColumns[col.Name] {
				cell = cdc.NullCell()
			}
			vals[i] = Render(cell, col.DataType)
		}
		rowLiterals[r] = "(" + strings.Join(vals, ",") + ")"
	}
	b.WriteString(strings.Join(rowLiterals, ", "))

	return neutralizePlaceholders(b.String())
}

// DeleteRow is one row's primary-key cells, keyed by column name.
type DeleteRow struct {
	Keys map[string]cdc.Cell
}

// Delete builds a single batched ALTER TABLE ... DELETE WHERE statement
// covering every row, using primary-key cells only. Returns "" when there
// is no primary key or no rows, so callers skip execution rather than
// run an unconditional DELETE.
func Delete(database, table string, pkColumns []cdc.SinkColumn, rows []DeleteRow) string {
	if len(pkColumns) == 0 || len(rows) == 0 {
		return ""
	}

	conditions := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, 0, len(pkColumns))
		for _, col := range pkColumns {
			cell, ok := row.Keys[col.Name]
			if !ok {
				cell = cdc.NullCell()
			}
			parts = append(parts, fmt.Sprintf("%s = %s", col.Name, Render(cell, col.DataType)))
		}
		conditions = append(conditions, "("+strings.Join(parts, " AND ")+")")
	}

	if len(conditions) == 0 {
		return ""
	}

	stmt := fmt.Sprintf("ALTER TABLE %s.%s DELETE WHERE %s", database, table, strings.Join(conditions, " OR "))
	return neutralizePlaceholders(stmt)
}

// Truncate builds a TRUNCATE TABLE statement.
func Truncate(database, table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s.%s", database, table)
}

// neutralizePlaceholders doubles any raw '?' so the ClickHouse driver's
// own placeholder substitution doesn't misinterpret a literal question
// mark embedded in a rendered string value.
func neutralizePlaceholders(query string) string {
	return strings.ReplaceAll(query, "?", "??")
}
