package chtype

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClassifyBSON maps a decoded BSON value's dynamic Go type to the BSONKind
// used for schema inference, mirroring the reference's one-to-one match
// over its Bson enum.
func ClassifyBSON(v any) BSONKind {
	switch v.(type) {
	case string:
		return BSONString
	case int32:
		return BSONInt32
	case int64:
		return BSONInt64
	case float64:
		return BSONDouble
	case primitive.Decimal128:
		return BSONDecimal128
	case bool:
		return BSONBoolean
	case primitive.DateTime, time.Time:
		return BSONDateTime
	case primitive.Timestamp:
		return BSONTimestamp
	case primitive.Binary:
		return BSONBinary
	case primitive.ObjectID:
		return BSONObjectID
	case primitive.Symbol:
		return BSONSymbol
	case primitive.Regex:
		return BSONRegex
	case primitive.JavaScript, primitive.CodeWithScope:
		return BSONJavaScript
	case bson.M, bson.D:
		return BSONDocument
	case bson.A:
		return BSONArray
	case nil:
		return BSONNull
	default:
		return BSONString
	}
}

// BSONToText renders a decoded BSON value as the text form consumed by
// Render/Cell construction. Documents and arrays serialize to JSON text;
// ObjectID renders as its hex string; dates render as a DateTime-parseable
// string so formatDateTime's truncation rules still apply uniformly.
func BSONToText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format("2006-01-02 15:04:05.000000")
	case time.Time:
		return val.UTC().Format("2006-01-02 15:04:05.000000")
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format("2006-01-02 15:04:05.000000")
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return fmt.Sprintf("%x", val.Data)
	case bson.M, bson.D, bson.A:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
