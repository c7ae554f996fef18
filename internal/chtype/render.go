package chtype

import (
	"fmt"
	"strings"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

// Render turns one cell into the ClickHouse SQL literal appropriate for
// chType (a destination column's declared type). A cell is rendered to
// SQL exactly once, using the target column's declared type.
func Render(cell cdc.Cell, chType string) string {
	if cell.Kind == cdc.Null && IsNullableType(chType) {
		return "NULL"
	}

	scalar := baseScalar(chType)

	switch scalar {
	case "Int8", "Int16", "Int32", "Int64":
		return textOr(cell, "0")
	case "Float32", "Float64", "Decimal":
		return textOr(cell, "0.0")
	case "Bool":
		return renderBool(textOr(cell, "f"))
	case "String":
		return "'" + escapeString(textOr(cell, "")) + "'"
	case "Date":
		return fmt.Sprintf("toDate('%s')", formatDateTime(textOr(cell, "current_date()")))
	case "DateTime":
		return fmt.Sprintf("toDateTime('%s')", formatDateTime(textOr(cell, "now()")))
	case "Time":
		return fmt.Sprintf("toTime('%s')", formatDateTime(textOr(cell, "now()")))
	default:
		if IsArrayType(chType) {
			return renderArray(cell, chType)
		}
		return textOr(cell, "NULL")
	}
}

// DefaultValue returns the literal ClickHouse uses for a column missing
// from the source row entirely (not present in the source schema at all,
// as opposed to an explicit NULL/unchanged cell). Unlike Render, this does
// not unwrap Nullable(...): a nullable column with no source counterpart
// defaults to NULL, matching the reference default-value table, which has
// no Nullable(...) arms of its own.
func DefaultValue(chType string) string {
	switch chType {
	case "Int8", "Int16", "Int32", "Int64":
		return "0"
	case "Float32", "Float64", "Decimal":
		return "0.0"
	case "String":
		return "''"
	case "Date":
		return "current_date()"
	case "DateTime":
		return "now()"
	default:
		if IsArrayType(chType) {
			return "[]"
		}
		return "NULL"
	}
}

func textOr(cell cdc.Cell, fallback string) string {
	switch cell.Kind {
	case cdc.Text:
		return cell.Text
	case cdc.Native:
		return BSONToText(cell.Native)
	default:
		return fallback
	}
}

func renderBool(text string) string {
	switch strings.ToLower(text) {
	case "t", "1", "true":
		return "TRUE"
	case "f", "0", "false":
		return "FALSE"
	default:
		return "FALSE"
	}
}

// escapeString applies the backslash-then-quote escaping used throughout
// this codebase's string rendering: a literal backslash is doubled first
// so it cannot later swallow the closing quote, then single quotes are
// doubled per standard SQL string-literal escaping.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

// formatDateTime truncates a source timestamp text before its first "."
// (dropping fractional seconds) and before its first "+" (dropping a
// timezone suffix), applied in that order, uniformly regardless of which
// source adapter produced the text.
func formatDateTime(source string) string {
	if pos := strings.IndexByte(source, '.'); pos >= 0 {
		source = source[:pos]
	}
	if pos := strings.IndexByte(source, '+'); pos >= 0 {
		source = source[:pos]
	}
	return source
}

// arrayValue strips a Postgres array literal's outer braces, if present.
func arrayValue(text string) string {
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text[1 : len(text)-1]
	}
	return text
}

// parseStringArray splits a (brace-stripped) Postgres text-array payload
// into its quoted elements. Mirrors the reference implementation: strip
// outer braces, trim one layer of surrounding quotes, then split on the
// literal sequence `","`. An input of "{}" therefore yields [""].
func parseStringArray(value string) []string {
	value = strings.Trim(value, "{}")
	trimmed := strings.Trim(value, `"`)
	return strings.Split(trimmed, `","`)
}

func renderArray(cell cdc.Cell, chType string) string {
	text := ""
	if cell.Kind == cdc.Text {
		text = arrayValue(cell.Text)
	}

	if chType == "Array(String)" {
		elems := parseStringArray(text)
		quoted := make([]string, len(elems))
		for i, e := range elems {
			quoted[i] = "'" + escapeString(e) + "'"
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	}

	return "[" + text + "]"
}
