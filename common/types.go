package common

import (
	"fmt"
	"strings"
	"time"
)

type Type int8

const (
	// For uninitialized Values
	DefaultType Type = iota
	IntType
	StringType
	// TimestampType values are instants with microsecond precision, always normalized to UTC.
	TimestampType
)

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	case TimestampType:
		return "timestamp"
	}
	return "unknown"
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "bigint":
		return IntType, nil
	case "string", "text", "varchar":
		return StringType, nil
	case "timestamp", "datetime":
		return TimestampType, nil
	}
	return DefaultType, NewError(ConfigurationError, "unknown column type '%s'", s)
}

// MarshalText lets catalogs store types by name rather than by ordinal.
func (t Type) MarshalText() ([]byte, error) {
	if t == DefaultType {
		return nil, fmt.Errorf("cannot marshal uninitialized type")
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ObjectID is a unique identifier for a table in the catalog.
type ObjectID uint32

const InvalidObjectID ObjectID = 0

// Value represents a data item in a tuple. Ints and timestamps share the integer slot; a timestamp is stored as
// microseconds since the Unix epoch.
type Value struct {
	t                Type
	null             bool
	underlyingInt    int64
	underlyingString string
}

// IsNil returns true if the Value is nil and uninitialized. This is NOT to be confused with NULL values.
func (v Value) IsNil() bool {
	return v.t == DefaultType
}

// NewIntValue creates a new integer Value.
func NewIntValue(v int64) Value {
	return Value{
		t:             IntType,
		underlyingInt: v,
	}
}

// NewStringValue creates a new string Value.
func NewStringValue(v string) Value {
	return Value{
		t:                StringType,
		underlyingString: v,
	}
}

// NewTimestampValue creates a new timestamp Value, truncated to microseconds.
func NewTimestampValue(v time.Time) Value {
	return Value{
		t:             TimestampType,
		underlyingInt: v.UnixMicro(),
	}
}

// NewNullValue creates a NULL of the given type.
func NewNullValue(t Type) Value {
	return Value{
		t:    t,
		null: true,
	}
}

// NewNullInt creates a NULL integer Value.
func NewNullInt() Value {
	return NewNullValue(IntType)
}

// NewNullString creates a NULL string Value.
func NewNullString() Value {
	return NewNullValue(StringType)
}

// Type returns the type of the Value.
func (v Value) Type() Type {
	return v.t
}

// IsNull returns true if the Value is NULL.
func (v Value) IsNull() bool {
	return v.null
}

// IntValue returns the underlying (non-NULL) integer.
func (v Value) IntValue() int64 {
	Assert(v.t == IntType, "type mismatch in IntValue")
	Assert(!v.null, "accessing value of NULL int")
	return v.underlyingInt
}

// StringValue returns the underlying (non-NULL) string.
func (v Value) StringValue() string {
	Assert(v.t == StringType, "type mismatch in StringValue")
	Assert(!v.null, "accessing value of NULL string")
	return v.underlyingString
}

// TimestampValue returns the underlying (non-NULL) instant in UTC.
func (v Value) TimestampValue() time.Time {
	Assert(v.t == TimestampType, "type mismatch in TimestampValue")
	Assert(!v.null, "accessing value of NULL timestamp")
	return time.UnixMicro(v.underlyingInt).UTC()
}

// TimestampMicros returns the raw microsecond count of a (non-NULL) timestamp.
func (v Value) TimestampMicros() int64 {
	Assert(v.t == TimestampType, "type mismatch in TimestampMicros")
	Assert(!v.null, "accessing value of NULL timestamp")
	return v.underlyingInt
}

// Interface returns the value as a plain Go value: int64, string, time.Time or nil for NULL.
func (v Value) Interface() any {
	if v.null {
		return nil
	}
	switch v.t {
	case IntType:
		return v.underlyingInt
	case StringType:
		return v.underlyingString
	case TimestampType:
		return v.TimestampValue()
	}
	return nil
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.t {
	case IntType:
		return fmt.Sprintf("%d", v.underlyingInt)
	case StringType:
		return fmt.Sprintf("'%s'", v.underlyingString)
	case TimestampType:
		return fmt.Sprintf("TIMESTAMP '%s'", v.TimestampValue().Format(TimestampLayout))
	}
	return "<nil>"
}

// TimestampLayout is the canonical text form of a timestamp. It is fixed width, so lexicographic and
// chronological order agree.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Compare compares two Values.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
// NULL is considered less than non-NULL values.
func (v Value) Compare(other Value) int {
	Assert(v.t == other.t, "type mismatch in comparison")

	if v.null && other.null {
		return 0
	}
	if v.null {
		return -1
	}
	if other.null {
		return 1
	}

	switch v.t {
	case IntType, TimestampType:
		if v.underlyingInt < other.underlyingInt {
			return -1
		}
		if v.underlyingInt > other.underlyingInt {
			return 1
		}
		return 0
	case StringType:
		return strings.Compare(v.underlyingString, other.underlyingString)
	}
	panic("unreachable")
}
