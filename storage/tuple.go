package storage

import (
	"encoding/binary"
	"strings"

	"mit.edu/dsg/topsales/common"
)

// Tuple is the logical view of a row: the unit every query operator (Filter, Join, Aggregate...) exchanges.
//
// Relations in this job live entirely in memory, so a tuple is simply a slice of Values. Operators that reuse
// an output buffer between calls to Next hand out tuples that alias that buffer; anything that keeps a tuple
// past the next call must DeepCopy it.
type Tuple struct {
	values []common.Value
}

// FromValues creates a Tuple over the given values without copying them.
func FromValues(values ...common.Value) Tuple {
	return Tuple{values: values}
}

// Extend returns a NEW Tuple consisting of the current tuple's fields followed by newValues.
func (t Tuple) Extend(newValues []common.Value) Tuple {
	values := make([]common.Value, 0, len(t.values)+len(newValues))
	values = append(values, t.values...)
	return Tuple{values: append(values, newValues...)}
}

// MergeTuples writes left followed by right into buf, growing it if needed, and returns a tuple over it.
func MergeTuples(buf []common.Value, left Tuple, right Tuple) Tuple {
	buf = append(append(buf[:0], left.values...), right.values...)
	return Tuple{values: buf}
}

// IsNil checks if the tuple is uninitialized.
func (t Tuple) IsNil() bool {
	return t.values == nil
}

// NumColumns returns the number of fields in the tuple.
func (t Tuple) NumColumns() int {
	return len(t.values)
}

// GetValue retrieves the value at index i.
func (t Tuple) GetValue(i int) common.Value {
	return t.values[i]
}

// DeepCopy returns a tuple that no longer aliases any operator buffer.
func (t Tuple) DeepCopy() Tuple {
	values := make([]common.Value, len(t.values))
	copy(values, t.values)
	return Tuple{values: values}
}

// Conforms reports whether every field matches the given schema (NULLs must still carry the column type).
func (t Tuple) Conforms(schema []common.Type) bool {
	if len(t.values) != len(schema) {
		return false
	}
	for i, v := range t.values {
		if v.Type() != schema[i] {
			return false
		}
	}
	return true
}

func (t Tuple) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// AppendKey appends a self-delimiting binary encoding of values to buf. Two value lists produce the same bytes
// exactly when they are equal field by field (NULL equal to NULL), which makes the result usable as a map key.
func AppendKey(buf []byte, values ...common.Value) []byte {
	var scratch [binary.MaxVarintLen64]byte
	for _, v := range values {
		if v.IsNull() {
			buf = append(buf, byte(v.Type()), 0)
			continue
		}
		buf = append(buf, byte(v.Type()), 1)
		switch v.Type() {
		case common.IntType:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v.IntValue()))
		case common.TimestampType:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v.TimestampMicros()))
		case common.StringType:
			s := v.StringValue()
			n := binary.PutUvarint(scratch[:], uint64(len(s)))
			buf = append(buf, scratch[:n]...)
			buf = append(buf, s...)
		default:
			common.Assert(false, "cannot encode value of type %s", v.Type())
		}
	}
	return buf
}
