package chtype

import (
	"strings"
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

func defaultOpts() TableOptions {
	return TableOptions{IndexGranularity: 8192, MinAgeToForceMergeSeconds: 60}
}

func TestCreateTableUsersScenario(t *testing.T) {
	cols := []cdc.SourceColumn{
		{Ordinal: 1, Name: "id", NativeType: "int4", Nullable: false, PrimaryKey: true},
		{Ordinal: 2, Name: "name", NativeType: "text", Nullable: false},
	}
	got := CreateTable("db", "users", cols, defaultOpts(), "")

	for _, want := range []string{
		"CREATE TABLE db.users(",
		"`id` Int32 COMMENT ''",
		"`name` String COMMENT ''",
		"ENGINE = ReplacingMergeTree()",
		"ORDER BY (id)",
		"index_granularity = 8192",
		"min_age_to_force_merge_seconds = 60",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("CreateTable output missing %q; got:\n%s", want, got)
		}
	}
}

func TestCreateTableNoPrimaryKeyOmitsOrderBy(t *testing.T) {
	cols := []cdc.SourceColumn{{Name: "v", NativeType: "text", Nullable: true}}
	got := CreateTable("db", "logs", cols, defaultOpts(), "")
	if strings.Contains(got, "ORDER BY") {
		t.Errorf("expected no ORDER BY clause, got:\n%s", got)
	}
}

func TestAddColumn(t *testing.T) {
	col := cdc.SourceColumn{Name: "extra", NativeType: "int8", Nullable: true}
	got := AddColumn("db", "users", col)
	want := "ALTER TABLE db.users ADD COLUMN `extra` Nullable(Int64) COMMENT '';"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertScenario(t *testing.T) {
	sink := []cdc.SinkColumn{
		{Name: "id", DataType: "Int32", PrimaryKey: true},
		{Name: "name", DataType: "String"},
	}
	rows := []InsertRow{{Values: map[string]cdc.Cell{
		"id":   cdc.TextCell("1"),
		"name": cdc.TextCell("a"),
	}}}
	got := Insert("db", "users", sink, nil, rows)
	want := "INSERT INTO db.users (id, name) VALUES(1,'a')"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertMasksColumn(t *testing.T) {
	sink := []cdc.SinkColumn{
		{Name: "id", DataType: "Int32", PrimaryKey: true},
		{Name: "name", DataType: "Nullable(String)"},
	}
	rows := []InsertRow{{Values: map[string]cdc.Cell{
		"id":   cdc.TextCell("2"),
		"name": cdc.TextCell("secret"),
	}}}
	got := Insert("db", "users", sink, map[string]bool{"name": true}, rows)
	want := "INSERT INTO db.users (id, name) VALUES(2,NULL)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertMissingSourceColumnRendersDefault(t *testing.T) {
	sink := []cdc.SinkColumn{
		{Name: "id", DataType: "Int32", PrimaryKey: true},
		{Name: "missing", DataType: "String"},
	}
	rows := []InsertRow{{Values: map[string]cdc.Cell{"id": cdc.TextCell("1")}}}
	got := Insert("db", "t", sink, nil, rows)
	want := "INSERT INTO db.t (id, missing) VALUES(1,'')"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertEmptyRowsReturnsEmptyString(t *testing.T) {
	if got := Insert("db", "t", nil, nil, nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestDeleteScenario(t *testing.T) {
	pk := []cdc.SinkColumn{{Name: "id", DataType: "Int32", PrimaryKey: true}}
	rows := []DeleteRow{{Keys: map[string]cdc.Cell{"id": cdc.TextCell("1")}}}
	got := Delete("db", "users", pk, rows)
	want := "ALTER TABLE db.users DELETE WHERE (id = 1)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDeleteNoPrimaryKeyReturnsEmptyString(t *testing.T) {
	rows := []DeleteRow{{Keys: map[string]cdc.Cell{"id": cdc.TextCell("1")}}}
	if got := Delete("db", "users", nil, rows); got != "" {
		t.Errorf("got %q, want empty (engine must not execute it)", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("db", "users"); got != "TRUNCATE TABLE db.users" {
		t.Errorf("got %q", got)
	}
}

func TestNeutralizePlaceholders(t *testing.T) {
	sink := []cdc.SinkColumn{{Name: "q", DataType: "String"}}
	rows := []InsertRow{{Values: map[string]cdc.Cell{"q": cdc.TextCell("what?")}}}
	got := Insert("db", "t", sink, nil, rows)
	if strings.Contains(got, "?") && !strings.Contains(got, "??") {
		t.Errorf("expected raw ? to be doubled, got %q", got)
	}
}
