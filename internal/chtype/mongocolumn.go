package chtype

import (
	"fmt"
	"strings"
)

// MongoColumn describes one field observed in a BSON document, ready to
// become a ClickHouse column. Unlike SourceColumn it carries a BSONKind
// instead of a Postgres native type name, since a collection has no fixed
// catalog to read ahead of time.
type MongoColumn struct {
	Name       string
	Kind       BSONKind
	PrimaryKey bool
}

// CreateTableMongo builds a CREATE TABLE statement from observed Mongo
// columns. Called once per collection, normally with just the _id column,
// since the remaining columns are discovered and added as documents are
// seen (see AddColumnMongo).
func CreateTableMongo(database, table string, columns []MongoColumn, opts TableOptions, comment string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s(", database, table)

	defs := make([]string, len(columns))
	var pkNames []string
	for i, col := range columns {
		chType := MongoToClickHouse(col.Kind, col.Name)
		defs[i] = fmt.Sprintf("`%s` %s", col.Name, chType)
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

// AddColumnMongo builds an ALTER TABLE ... ADD COLUMN statement for one
// newly observed Mongo field.
func AddColumnMongo(database, table string, col MongoColumn) string {
	chType := MongoToClickHouse(col.Kind, col.Name)
	stmt := fmt.Sprintf("ALTER TABLE %s.%s ADD COLUMN `%s` %s;", database, table, col.Name, chType)
	return neutralizePlaceholders(stmt)
}
