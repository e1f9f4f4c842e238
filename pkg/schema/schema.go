// Package schema derives relational table definitions from record types.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	gormschema "gorm.io/gorm/schema"
)

// Kind is the storage type of a column.
type Kind int

// Supported column kinds.
const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindTime
	KindList
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Blob reports whether values of this kind are stored serialized.
func (k Kind) Blob() bool {
	return k == KindList || k == KindMap
}

const (
	// PrimaryKey is the implicit auto-increment key added to every table.
	PrimaryKey = "id"

	// RunIDColumn is always stored as an integer.
	RunIDColumn = "run_id"

	tagName = "db"
)

// ErrUnsupportedType is returned when a record field has a type that
// cannot be mapped onto a column.
var ErrUnsupportedType = errors.New("unsupported field type")

var timeType = reflect.TypeOf(time.Time{})

// Column describes one stored field of a record.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool

	// Index is the reflect field index path within the record struct.
	Index []int
}

// Table is the derived table definition of a record type.
type Table struct {
	Name    string
	Type    reflect.Type
	Columns []Column

	byName map[string]int
}

// Column looks up a column by name. The implicit primary key is not a
// column of the record and is not returned.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}

	return t.Columns[i], true
}

// HasColumn reports whether name is a stored column of the table,
// including the implicit primary key.
func (t *Table) HasColumn(name string) bool {
	if name == PrimaryKey {
		return true
	}

	_, ok := t.byName[name]

	return ok
}

// ColumnNames returns the record column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}

	return names
}

// Derive builds the table definition for a record type. t may be a struct
// type or a pointer to one.
func Derive(t reflect.Type) (*Table, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedType, t)
	}

	table := &Table{
		Name:   TableName(t.Name()),
		Type:   t,
		byName: make(map[string]int, t.NumField()),
	}

	if table.Name == "" {
		return nil, fmt.Errorf("%w: anonymous struct %s", ErrUnsupportedType, t)
	}

	if err := table.addFields(t, nil); err != nil {
		return nil, fmt.Errorf("deriving %s: %w", table.Name, err)
	}

	return table, nil
}

func (t *Table) addFields(st reflect.Type, parent []int) error {
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)

		tag := f.Tag.Get(tagName)
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")

		index := make([]int, 0, len(parent)+1)
		index = append(index, parent...)
		index = append(index, i)

		if f.Anonymous || opts == "squash" {
			ft := f.Type
			if ft.Kind() != reflect.Struct {
				return fmt.Errorf("%w: embedded %s must be a struct", ErrUnsupportedType, f.Name)
			}

			if err := t.addFields(ft, index); err != nil {
				return err
			}

			continue
		}

		if !f.IsExported() {
			continue
		}

		if name == "" {
			name = SnakeCase(f.Name)
		}

		if name == PrimaryKey {
			return fmt.Errorf("field %s: column name %q is reserved", f.Name, name)
		}

		if _, exists := t.byName[name]; exists {
			return fmt.Errorf("field %s: duplicate column %q", f.Name, name)
		}

		kind, nullable, err := kindOf(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}

		if name == RunIDColumn {
			kind = KindInt
		}

		t.byName[name] = len(t.Columns)
		t.Columns = append(t.Columns, Column{
			Name:     name,
			Kind:     kind,
			Nullable: nullable,
			Index:    index,
		})
	}

	return nil
}

// kindOf maps a Go field type onto a column kind. Pointers to scalars are
// nullable; slices and maps are nullable blobs.
func kindOf(t reflect.Type) (Kind, bool, error) {
	nullable := false

	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()

		if t.Kind() == reflect.Pointer {
			return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
	}

	if t == timeType {
		return KindTime, nullable, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return KindBool, nullable, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return KindInt, nullable, nil
	case reflect.Float32, reflect.Float64:
		return KindFloat, nullable, nil
	case reflect.String:
		return KindString, nullable, nil
	case reflect.Slice:
		if nullable {
			break
		}

		return KindList, true, nil
	case reflect.Map:
		if nullable || t.Key().Kind() != reflect.String {
			break
		}

		return KindMap, true, nil
	}

	return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// naming keeps table names singular, so TestRun maps to test_run.
var naming = gormschema.NamingStrategy{SingularTable: true}

// SnakeCase converts a CamelCase identifier to snake_case.
func SnakeCase(name string) string {
	return naming.ColumnName("", name)
}

// TableName is the table of a record type named typeName.
func TableName(typeName string) string {
	return naming.TableName(typeName)
}
