// Package chtype maps source column types to ClickHouse types, renders
// cell values as ClickHouse SQL literals, and builds the DDL/DML
// statements the steady-state engine issues.
package chtype

import "strings"

// PostgresToClickHouse maps a Postgres native type name to a ClickHouse
// type, wrapping scalar types in Nullable(...) when the source column is
// nullable. Array types (the "_"-prefixed native names) are never wrapped
// in Nullable.
func PostgresToClickHouse(nativeType string, nullable bool) string {
	wrap := func(t string) string {
		if nullable {
			return "Nullable(" + t + ")"
		}
		return t
	}

	switch nativeType {
	case "int2":
		return wrap("Int16")
	case "_int2":
		return "Array(Int16)"
	case "int4", "int":
		return wrap("Int32")
	case "_int4":
		return "Array(Int32)"
	case "int8":
		return wrap("Int64")
	case "_int8":
		return "Array(Int64)"
	case "float4":
		return wrap("Float32")
	case "_float4":
		return "Array(Float32)"
	case "float8":
		return wrap("Float64")
	case "_float8":
		return "Array(Float64)"
	case "numeric":
		return wrap("Decimal")
	case "_numeric":
		return "Array(Decimal)"
	case "varchar", "text", "json", "jsonb":
		return wrap("String")
	case "_varchar", "_text":
		return "Array(String)"
	case "bool":
		return wrap("Bool")
	case "_bool":
		return "Array(Bool)"
	case "timestamp", "timestamptz":
		return wrap("DateTime")
	case "date":
		return wrap("Date")
	default:
		// Unsupported native type: fall back to String, as documented.
		// Callers are expected to log a warning using the native type name.
		return wrap("String")
	}
}

// IsUnsupportedPostgresType reports whether nativeType falls through to the
// default String mapping, so callers can emit the spec-mandated warning.
func IsUnsupportedPostgresType(nativeType string) bool {
	switch nativeType {
	case "int2", "_int2", "int4", "int", "_int4", "int8", "_int8",
		"float4", "_float4", "float8", "_float8", "numeric", "_numeric",
		"varchar", "text", "json", "jsonb", "_varchar", "_text",
		"bool", "_bool", "timestamp", "timestamptz", "date":
		return false
	default:
		return true
	}
}

// BSONKind names a BSON value's dynamic type, used to pick the ClickHouse
// mapping for a Mongo source column.
type BSONKind int

const (
	BSONString BSONKind = iota
	BSONInt32
	BSONInt64
	BSONDouble
	BSONDecimal128
	BSONBoolean
	BSONDateTime
	BSONTimestamp
	BSONBinary
	BSONObjectID
	BSONSymbol
	BSONRegex
	BSONJavaScript
	BSONDocument
	BSONArray
	BSONNull
)

// MongoToClickHouse maps a BSON kind to a ClickHouse type. The primary-key
// field named "_id" is special-cased here as non-nullable String (column
// name, not kind, decides that).
func MongoToClickHouse(kind BSONKind, columnName string) string {
	if columnName == "_id" {
		return "String"
	}
	switch kind {
	case BSONString:
		return "Nullable(String)"
	case BSONInt32:
		return "Nullable(Int32)"
	case BSONInt64:
		return "Nullable(Int64)"
	case BSONDouble:
		return "Nullable(Float64)"
	case BSONDecimal128:
		return "Nullable(Decimal)"
	case BSONBoolean:
		return "Nullable(Bool)"
	case BSONDateTime, BSONTimestamp:
		return "Nullable(DateTime)"
	case BSONBinary, BSONObjectID, BSONSymbol, BSONRegex, BSONJavaScript, BSONDocument, BSONArray:
		return "Nullable(String)"
	default:
		return "Nullable(String)"
	}
}

// IsArrayType reports whether a ClickHouse type string is an Array(...).
func IsArrayType(chType string) bool {
	return strings.HasPrefix(chType, "Array(")
}

// IsNullableType reports whether a ClickHouse type string is Nullable(...).
func IsNullableType(chType string) bool {
	return strings.HasPrefix(chType, "Nullable(")
}

// baseScalar strips a Nullable(...) wrapper, if present, leaving the bare
// scalar type name used for rendering dispatch.
func baseScalar(chType string) string {
	if IsNullableType(chType) {
		return chType[len("Nullable(") : len(chType)-1]
	}
	return chType
}
