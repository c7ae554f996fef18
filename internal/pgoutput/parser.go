// Package pgoutput decodes the binary payload of a single row returned by
// pg_logical_slot_peek_binary_changes (PostgreSQL's pgoutput logical
// decoding plugin, protocol version 1). It consumes one message's byte
// payload and yields either a decoded record or a tag indicating the
// message carries nothing the engine needs.
package pgoutput

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/clockpipe/clockpipe/internal/cdc"
	"github.com/clockpipe/clockpipe/internal/pipeerr"
)

// Message tags, the first byte of every pgoutput payload.
const (
	TagBegin    byte = 'B'
	TagCommit   byte = 'C'
	TagOrigin   byte = 'O'
	TagRelation byte = 'R'
	TagType     byte = 'Y'
	TagInsert   byte = 'I'
	TagUpdate   byte = 'U'
	TagDelete   byte = 'D'
	TagTruncate byte = 'T'
)

// Tuple kind bytes preceding a tuple (Insert carries only N; Update and
// Delete may carry K or O).
const (
	tupleKindKey byte = 'K'
	tupleKindOld byte = 'O'
	tupleKindNew byte = 'N'
)

// Column kind bytes within a tuple.
const (
	colNull      byte = 'n'
	colUnchanged byte = 'u'
	colText      byte = 't'
	colBinary    byte = 'b'
)

// Record is the decoded result of one pgoutput message. Tag is always set;
// callers surface only Insert/Update/Delete/Truncate and skip the rest
// (Begin/Commit/Origin/Relation/Type carry no row data this parser needs).
type Record struct {
	Tag           byte
	RelationID    uint32
	NewTuple      []cdc.Cell
	OldTuple      []cdc.Cell // the K or O tuple preceding an Update/Delete's new image
	TruncateFlags byte
}

// Surfaced reports whether the engine should act on this record at all.
func (r *Record) Surfaced() bool {
	switch r.Tag {
	case TagInsert, TagUpdate, TagDelete, TagTruncate:
		return true
	default:
		return false
	}
}

// Parse decodes a single message payload. B/C/O/R/Y messages are returned
// with only Tag set (Surfaced() == false); callers should skip them
// without inspecting the rest of the Record.
func Parse(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, pipeerr.Wrapf(pipeerr.PgOutputParse, "empty message payload")
	}

	r := &Record{Tag: data[0]}
	body := data[1:]

	switch r.Tag {
	case TagBegin, TagCommit, TagOrigin, TagRelation, TagType:
		return r, nil

	case TagInsert:
		relID, rest, err := readU32(body)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.RelationID = relID
		kind, rest, err := readByte(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		if kind != tupleKindNew {
			return nil, pipeerr.Wrapf(pipeerr.PgOutputParse, "insert: unexpected tuple kind %q", kind)
		}
		tuple, _, err := readTuple(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.NewTuple = tuple
		return r, nil

	case TagUpdate:
		relID, rest, err := readU32(body)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.RelationID = relID
		kind, rest, err := readByte(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		if kind == tupleKindKey || kind == tupleKindOld {
			old, after, err := readTuple(rest)
			if err != nil {
				return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
			}
			r.OldTuple = old
			rest = after
			kind, rest, err = readByte(rest)
			if err != nil {
				return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
			}
		}
		if kind != tupleKindNew {
			return nil, pipeerr.Wrapf(pipeerr.PgOutputParse, "update: expected N tuple, got %q", kind)
		}
		tuple, _, err := readTuple(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.NewTuple = tuple
		return r, nil

	case TagDelete:
		relID, rest, err := readU32(body)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.RelationID = relID
		kind, rest, err := readByte(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		if kind != tupleKindKey && kind != tupleKindOld {
			return nil, pipeerr.Wrapf(pipeerr.PgOutputParse, "delete: unexpected tuple kind %q", kind)
		}
		tuple, _, err := readTuple(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.OldTuple = tuple
		return r, nil

	case TagTruncate:
		relID, rest, err := readU32(body)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.RelationID = relID
		flags, _, err := readByte(rest)
		if err != nil {
			return nil, pipeerr.Wrap(pipeerr.PgOutputParse, err)
		}
		r.TruncateFlags = flags
		return r, nil

	default:
		return nil, pipeerr.Wrapf(pipeerr.PgOutputParse, "unknown message tag %q", r.Tag)
	}
}

func readTuple(data []byte) ([]cdc.Cell, []byte, error) {
	count, rest, err := readU16(data)
	if err != nil {
		return nil, nil, err
	}
	cells := make([]cdc.Cell, 0, count)
	for i := uint16(0); i < count; i++ {
		kind, after, err := readByte(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("column %d: %w", i, err)
		}
		rest = after

		switch kind {
		case colNull:
			cells = append(cells, cdc.NullCell())
		case colUnchanged:
			cells = append(cells, cdc.UnchangedCell())
		case colText:
			length, after, err := readU32(rest)
			if err != nil {
				return nil, nil, fmt.Errorf("column %d: %w", i, err)
			}
			raw, after, err := readN(after, int(length))
			if err != nil {
				return nil, nil, fmt.Errorf("column %d: %w", i, err)
			}
			if !utf8.Valid(raw) {
				return nil, nil, fmt.Errorf("column %d: invalid UTF-8 in text payload", i)
			}
			cells = append(cells, cdc.TextCell(string(raw)))
			rest = after
		case colBinary:
			length, after, err := readU32(rest)
			if err != nil {
				return nil, nil, fmt.Errorf("column %d: %w", i, err)
			}
			raw, after, err := readN(after, int(length))
			if err != nil {
				return nil, nil, fmt.Errorf("column %d: %w", i, err)
			}
			cells = append(cells, cdc.BinaryCell(append([]byte(nil), raw...)))
			rest = after
		default:
			return nil, nil, fmt.Errorf("column %d: unknown column kind %q", i, kind)
		}
	}
	return cells, rest, nil
}

func readByte(data []byte) (byte, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("unexpected end of message reading byte")
	}
	return data[0], data[1:], nil
}

func readU16(data []byte) (uint16, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("unexpected end of message reading uint16")
	}
	return binary.BigEndian.Uint16(data), data[2:], nil
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("unexpected end of message reading uint32")
	}
	return binary.BigEndian.Uint32(data), data[4:], nil
}

func readN(data []byte, n int) ([]byte, []byte, error) {
	if n < 0 || len(data) < n {
		return nil, nil, fmt.Errorf("unexpected end of message reading %d bytes", n)
	}
	return data[:n], data[n:], nil
}
