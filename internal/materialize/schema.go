package materialize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type columnKind int

const (
	kindUnknown columnKind = iota // only empty cells seen so far
	kindInt
	kindFloat
	kindBool
	kindString
)

func (k columnKind) String() string {
	switch k {
	case kindInt:
		return "INT64"
	case kindFloat:
		return "DOUBLE"
	case kindBool:
		return "BOOLEAN"
	default:
		return "STRING"
	}
}

// observe widens k so that it can also hold v.
func (k columnKind) observe(v string) columnKind {
	switch k {
	case kindUnknown, kindInt:
		if isInt(v) {
			return kindInt
		}
		if isFloat(v) {
			return kindFloat
		}
		if k == kindUnknown && isBool(v) {
			return kindBool
		}
		return kindString
	case kindFloat:
		if isFloat(v) {
			return kindFloat
		}
		return kindString
	case kindBool:
		if isBool(v) {
			return kindBool
		}
		return kindString
	default:
		return kindString
	}
}

func (k columnKind) node() parquet.Node {
	switch k {
	case kindInt:
		return parquet.Optional(parquet.Int(64))
	case kindFloat:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case kindBool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	default:
		return parquet.Optional(parquet.String())
	}
}

func (k columnKind) value(s string) (parquet.Value, error) {
	switch k {
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int64Value(n), nil
	case kindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.DoubleValue(f), nil
	case kindBool:
		return parquet.BooleanValue(strings.EqualFold(s, "true")), nil
	default:
		return parquet.ByteArrayValue([]byte(s)), nil
	}
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isBool(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

// orderedGroup lays out its fields in header order. parquet.Group alone
// sorts them by name.
type orderedGroup struct {
	parquet.Group
	fields []parquet.Field
}

func (g orderedGroup) Fields() []parquet.Field {
	return g.fields
}

type orderedField struct {
	parquet.Node
	name string
}

func (f orderedField) Name() string {
	return f.name
}

func (f orderedField) Value(base reflect.Value) reflect.Value {
	return base.MapIndex(reflect.ValueOf(f.name))
}

type column struct {
	name  string
	kind  columnKind
	index int // leaf column index in the parquet schema
}

// tableSchema maps CSV columns onto a flat parquet schema of optional leaves.
type tableSchema struct {
	columns []column
	parquet *parquet.Schema
}

// inferSchema scans the whole CSV once to pick a type per column.
func inferSchema(f *os.File) (*tableSchema, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind readings: %w", err)
	}

	reader := newCSVReader(f)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("readings file is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]column, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		columns[i] = column{name: name}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan readings: %w", err)
		}
		for i, v := range record {
			if v != "" {
				columns[i].kind = columns[i].kind.observe(v)
			}
		}
	}

	group := orderedGroup{
		Group:  make(parquet.Group, len(columns)),
		fields: make([]parquet.Field, len(columns)),
	}
	for i := range columns {
		if columns[i].kind == kindUnknown {
			columns[i].kind = kindString
		}
		node := columns[i].kind.node()
		group.Group[columns[i].name] = node
		group.fields[i] = orderedField{Node: node, name: columns[i].name}
	}

	schema := parquet.NewSchema("readings", group)
	for i := range columns {
		leaf, ok := schema.Lookup(columns[i].name)
		if !ok {
			return nil, fmt.Errorf("column %q missing from schema", columns[i].name)
		}
		columns[i].index = leaf.ColumnIndex
	}

	return &tableSchema{columns: columns, parquet: schema}, nil
}

// row converts one CSV record. Empty cells become nulls.
func (s *tableSchema) row(record []string) (parquet.Row, error) {
	if len(record) != len(s.columns) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(s.columns), len(record))
	}

	row := make(parquet.Row, len(s.columns))
	for i, c := range s.columns {
		v := record[i]
		if v == "" {
			row[c.index] = parquet.NullValue().Level(0, 0, c.index)
			continue
		}
		value, err := c.kind.value(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.name, err)
		}
		row[c.index] = value.Level(0, 1, c.index)
	}
	return row, nil
}
