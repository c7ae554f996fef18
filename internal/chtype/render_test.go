package chtype

import (
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

func TestPostgresToClickHouse(t *testing.T) {
	tests := []struct {
		native   string
		nullable bool
		want     string
	}{
		{"int4", false, "Int32"},
		{"int4", true, "Nullable(Int32)"},
		{"_int4", true, "Array(Int32)"},
		{"text", true, "Nullable(String)"},
		{"timestamptz", false, "DateTime"},
		{"date", true, "Nullable(Date)"},
		{"something_weird", true, "Nullable(String)"},
	}
	for _, tt := range tests {
		if got := PostgresToClickHouse(tt.native, tt.nullable); got != tt.want {
			t.Errorf("PostgresToClickHouse(%q, %v) = %q, want %q", tt.native, tt.nullable, got, tt.want)
		}
	}
}

func TestRenderNullableNull(t *testing.T) {
	if got := Render(cdc.NullCell(), "Nullable(String)"); got != "NULL" {
		t.Errorf("got %q, want NULL", got)
	}
}

func TestRenderBool(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"t", "TRUE"}, {"1", "TRUE"}, {"true", "TRUE"}, {"TRUE", "TRUE"},
		{"f", "FALSE"}, {"0", "FALSE"}, {"false", "FALSE"}, {"garbage", "FALSE"},
	}
	for _, tt := range tests {
		if got := Render(cdc.TextCell(tt.text), "Bool"); got != tt.want {
			t.Errorf("Render(%q, Bool) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestRenderString(t *testing.T) {
	if got := Render(cdc.TextCell("it's a \\test"), "String"); got != `'it''s a \\test'` {
		t.Errorf("got %q", got)
	}
}

func TestRenderDateTimeTruncatesFractionalAndTimezone(t *testing.T) {
	got := Render(cdc.TextCell("2025-08-18 05:16:08.490845+00"), "DateTime")
	want := "toDateTime('2025-08-18 05:16:08')"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderDateTimeIdempotent(t *testing.T) {
	once := formatDateTime("2025-08-18 05:16:08.490845+00")
	twice := formatDateTime(once)
	if once != twice || once != "2025-08-18 05:16:08" {
		t.Errorf("formatDateTime not idempotent: %q then %q", once, twice)
	}
}

func TestRenderStringArray(t *testing.T) {
	got := Render(cdc.TextCell(`{"a","b"}`), "Array(String)")
	if got != "['a', 'b']" {
		t.Errorf("got %q", got)
	}
}

func TestParseStringArrayWithEmbeddedComma(t *testing.T) {
	got := parseStringArray(`{"a,b","c"}`)
	want := []string{"a,b", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseStringArrayEmpty(t *testing.T) {
	got := parseStringArray("{}")
	if len(got) != 1 || got[0] != "" {
		t.Errorf("got %v, want one empty element", got)
	}
}

func TestRenderOtherArrayPassthrough(t *testing.T) {
	got := Render(cdc.TextCell("{1,2,3}"), "Array(Int32)")
	if got != "[1,2,3]" {
		t.Errorf("got %q", got)
	}
}

func TestRenderUnchangedUsesDefault(t *testing.T) {
	got := Render(cdc.UnchangedCell(), "Int32")
	if got != "0" {
		t.Errorf("got %q, want 0", got)
	}
}

func TestRenderNullNonNullableFallsBackToText(t *testing.T) {
	// Integer/float/bool/string branches substitute their own defaults
	// regardless of nullability; only the Nullable(...) fast path short
	// circuits to NULL.
	got := Render(cdc.NullCell(), "Int32")
	if got != "0" {
		t.Errorf("got %q, want 0", got)
	}
}

func TestDefaultValue(t *testing.T) {
	tests := []struct {
		chType string
		want   string
	}{
		{"Int32", "0"}, {"Nullable(Int32)", "NULL"},
		{"Float64", "0.0"},
		{"String", "''"},
		{"Date", "current_date()"},
		{"DateTime", "now()"},
		{"Array(String)", "[]"},
		{"Nullable(String)", "NULL"},
	}
	for _, tt := range tests {
		if got := DefaultValue(tt.chType); got != tt.want {
			t.Errorf("DefaultValue(%q) = %q, want %q", tt.chType, got, tt.want)
		}
	}
}
