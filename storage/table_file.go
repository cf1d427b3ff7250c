package storage

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

// Table data files are JSON Lines: one object per row, keyed by column name. Keys are matched to catalog columns
// case-insensitively; a missing key or a JSON null is a NULL. Extra keys are ignored.
//
// Timestamps are written in common.TimestampLayout (UTC) and read with dateparse, so any unambiguous date format
// is accepted; a timestamp without a zone is taken to be UTC.

const maxLineBytes = 1 << 20

// ReadTableFile decodes rows for table from r. Values that cannot be converted to their column type fail the read
// with a ValidationError naming the table, line and column.
func ReadTableFile(r io.Reader, table *catalog.Table) (*TableHeap, error) {
	heap := NewTableHeap(table)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	values := make([]common.Value, len(table.Columns))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		row, err := decodeLine(line)
		if err != nil {
			return nil, common.NewError(common.ValidationError, "%s line %d: %v", table.Name, lineNo, err)
		}
		for i, col := range table.Columns {
			v, err := decodeValue(row[strings.ToLower(col.Name)], col.Type)
			if err != nil {
				return nil, common.NewError(common.ValidationError, "%s line %d column '%s': %v", table.Name, lineNo, col.Name, err)
			}
			values[i] = v
		}
		if err := heap.InsertTuple(FromValues(values...)); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", table.Name)
	}
	return heap, nil
}

func decodeLine(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "malformed JSON object")
	}
	row := make(map[string]any, len(raw))
	for k, v := range raw {
		row[strings.ToLower(k)] = v
	}
	return row, nil
}

func decodeValue(raw any, t common.Type) (common.Value, error) {
	if raw == nil {
		return common.NewNullValue(t), nil
	}
	switch t {
	case common.IntType:
		n, ok := raw.(json.Number)
		if !ok {
			return common.Value{}, errors.Errorf("expected an integer, got %v", raw)
		}
		i, err := n.Int64()
		if err != nil {
			return common.Value{}, errors.Errorf("expected an integer, got %s", n)
		}
		return common.NewIntValue(i), nil
	case common.StringType:
		s, ok := raw.(string)
		if !ok {
			return common.Value{}, errors.Errorf("expected a string, got %v", raw)
		}
		return common.NewStringValue(s), nil
	case common.TimestampType:
		s, ok := raw.(string)
		if !ok {
			return common.Value{}, errors.Errorf("expected a timestamp string, got %v", raw)
		}
		ts, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return common.Value{}, errors.Errorf("malformed timestamp '%s'", s)
		}
		return common.NewTimestampValue(ts), nil
	}
	return common.Value{}, errors.Errorf("unsupported column type %s", t)
}

// WriteTableFile encodes every row of heap to w. The output depends only on the heap's columns and rows, so
// writing the same relation twice produces identical bytes.
func WriteTableFile(w io.Writer, heap *TableHeap) error {
	bw := bufio.NewWriter(w)
	keys := make([][]byte, len(heap.columns))
	for i, col := range heap.columns {
		k, err := json.Marshal(col.Name)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var line []byte
	for _, row := range heap.rows {
		line = append(line[:0], '{')
		for i := range heap.columns {
			if i > 0 {
				line = append(line, ',')
			}
			line = append(line, keys[i]...)
			line = append(line, ':')
			encoded, err := encodeValue(row.GetValue(i))
			if err != nil {
				return err
			}
			line = append(line, encoded...)
		}
		line = append(line, '}', '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func encodeValue(v common.Value) ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	switch v.Type() {
	case common.TimestampType:
		return json.Marshal(v.TimestampValue().Format(common.TimestampLayout))
	default:
		return json.Marshal(v.Interface())
	}
}
