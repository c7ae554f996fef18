package pgoutput

import (
	"encoding/binary"
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func textColumn(s string) []byte {
	out := []byte{colText}
	out = append(out, u32(uint32(len(s)))...)
	out = append(out, s...)
	return out
}

func TestParseSkipsAncillaryTags(t *testing.T) {
	for _, tag := range []byte{TagBegin, TagCommit, TagOrigin, TagRelation, TagType} {
		rec, err := Parse([]byte{tag})
		if err != nil {
			t.Fatalf("tag %q: unexpected error: %v", tag, err)
		}
		if rec.Surfaced() {
			t.Errorf("tag %q: expected Surfaced() == false", tag)
		}
	}
}

func TestParseInsert(t *testing.T) {
	var data []byte
	data = append(data, TagInsert)
	data = append(data, u32(7)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(2)...)
	data = append(data, textColumn("1")...)
	data = append(data, textColumn("a")...)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Surfaced() || rec.Tag != TagInsert {
		t.Fatalf("expected surfaced insert, got %+v", rec)
	}
	if rec.RelationID != 7 {
		t.Errorf("RelationID = %d, want 7", rec.RelationID)
	}
	if len(rec.NewTuple) != 2 || rec.NewTuple[0].Text != "1" || rec.NewTuple[1].Text != "a" {
		t.Errorf("NewTuple = %+v", rec.NewTuple)
	}
}

func TestParseUpdateWithKeyTuple(t *testing.T) {
	var data []byte
	data = append(data, TagUpdate)
	data = append(data, u32(7)...)
	data = append(data, tupleKindKey)
	data = append(data, u16(1)...)
	data = append(data, textColumn("1")...)
	data = append(data, tupleKindNew)
	data = append(data, u16(2)...)
	data = append(data, textColumn("1")...)
	data = append(data, textColumn("b")...)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.OldTuple) != 1 || rec.OldTuple[0].Text != "1" {
		t.Errorf("OldTuple = %+v", rec.OldTuple)
	}
	if len(rec.NewTuple) != 2 || rec.NewTuple[1].Text != "b" {
		t.Errorf("NewTuple = %+v", rec.NewTuple)
	}
}

func TestParseUpdateWithoutKeyTuple(t *testing.T) {
	var data []byte
	data = append(data, TagUpdate)
	data = append(data, u32(7)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(1)...)
	data = append(data, textColumn("x")...)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.OldTuple != nil {
		t.Errorf("expected no OldTuple, got %+v", rec.OldTuple)
	}
	if len(rec.NewTuple) != 1 || rec.NewTuple[0].Text != "x" {
		t.Errorf("NewTuple = %+v", rec.NewTuple)
	}
}

func TestParseDelete(t *testing.T) {
	var data []byte
	data = append(data, TagDelete)
	data = append(data, u32(7)...)
	data = append(data, tupleKindKey)
	data = append(data, u16(1)...)
	data = append(data, textColumn("1")...)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.OldTuple) != 1 || rec.OldTuple[0].Text != "1" {
		t.Errorf("OldTuple = %+v", rec.OldTuple)
	}
}

func TestParseTruncate(t *testing.T) {
	data := append([]byte{TagTruncate}, u32(7)...)
	data = append(data, 0x01)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RelationID != 7 || rec.TruncateFlags != 0x01 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestParseNullAndUnchangedColumns(t *testing.T) {
	var data []byte
	data = append(data, TagInsert)
	data = append(data, u32(1)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(2)...)
	data = append(data, colNull)
	data = append(data, colUnchanged)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.NewTuple[0].Kind != cdc.Null {
		t.Errorf("column 0 kind = %v, want Null", rec.NewTuple[0].Kind)
	}
	if rec.NewTuple[1].Kind != cdc.Unchanged {
		t.Errorf("column 1 kind = %v, want Unchanged", rec.NewTuple[1].Kind)
	}
}

func TestParseBinaryColumn(t *testing.T) {
	var data []byte
	data = append(data, TagInsert)
	data = append(data, u32(1)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(1)...)
	data = append(data, colBinary)
	data = append(data, u32(3)...)
	data = append(data, []byte{0xDE, 0xAD, 0xBE}...)

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.NewTuple[0].Kind != cdc.Binary {
		t.Fatalf("kind = %v, want Binary", rec.NewTuple[0].Kind)
	}
	if string(rec.NewTuple[0].Binary) != "\xDE\xAD\xBE" {
		t.Errorf("binary payload mismatch: %x", rec.NewTuple[0].Binary)
	}
}

func TestParseInvalidUTF8Fails(t *testing.T) {
	var data []byte
	data = append(data, TagInsert)
	data = append(data, u32(1)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(1)...)
	data = append(data, colText)
	data = append(data, u32(2)...)
	data = append(data, []byte{0xFF, 0xFE}...)

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for invalid UTF-8 text payload")
	}
}

func TestParseUnknownColumnKindFails(t *testing.T) {
	var data []byte
	data = append(data, TagInsert)
	data = append(data, u32(1)...)
	data = append(data, tupleKindNew)
	data = append(data, u16(1)...)
	data = append(data, 'z')

	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for unknown column kind")
	}
}

func TestParseTruncatedMessageFails(t *testing.T) {
	if _, err := Parse([]byte{TagInsert}); err == nil {
		t.Fatal("expected error for truncated insert message")
	}
}

func TestParseUnknownTagFails(t *testing.T) {
	if _, err := Parse([]byte{'Z'}); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestParseEmptyFails(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
