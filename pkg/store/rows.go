package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/ethpandaops/scopeoor/pkg/schema"
)

// timeLayouts are the textual timestamp formats drivers may hand back.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

var timeType = reflect.TypeOf(time.Time{})

// encodeRow flattens a record into column names and driver values.
func encodeRow(table *schema.Table, rec any) ([]string, []any, error) {
	rv := reflect.Indirect(reflect.ValueOf(rec))
	if rv.Type() != table.Type {
		return nil, nil, fmt.Errorf("record %s does not match table %s", rv.Type(), table.Name)
	}

	cols := make([]string, 0, len(table.Columns))
	vals := make([]any, 0, len(table.Columns))

	for _, col := range table.Columns {
		v, err := encodeValue(col, rv.FieldByIndex(col.Index).Interface())
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", col.Name, err)
		}

		cols = append(cols, col.Name)
		vals = append(vals, v)
	}

	return cols, vals, nil
}

// encodeValue converts a Go value into the value stored for col. Nil
// pointers, nil blobs and zero timestamps are stored as NULL.
func encodeValue(col schema.Column, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}

	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}

		rv = rv.Elem()
		v = rv.Interface()
	}

	switch col.Kind {
	case schema.KindList, schema.KindMap:
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
			return nil, nil
		}

		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", col.Kind, err)
		}

		return string(data), nil
	case schema.KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}

		if t.IsZero() {
			return nil, nil
		}

		return t.UTC(), nil
	case schema.KindInt:
		return cast.ToInt64E(v)
	case schema.KindFloat:
		return cast.ToFloat64E(v)
	case schema.KindBool:
		return cast.ToBoolE(v)
	case schema.KindString:
		return cast.ToStringE(v)
	default:
		return nil, fmt.Errorf("unknown column kind %s", col.Kind)
	}
}

// decodeRow reconstructs a typed record from a stored row. Only columns
// declared by the table are copied; other keys, including the primary
// key, are ignored.
func decodeRow[T any](table *schema.Table, row map[string]any) (T, error) {
	var out T

	fields := make(map[string]any, len(table.Columns))

	for _, col := range table.Columns {
		v, ok := row[col.Name]
		if !ok || v == nil {
			continue
		}

		fields[col.Name] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "db",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			timeDecodeHook,
			blobDecodeHook,
		),
	})
	if err != nil {
		return out, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(fields); err != nil {
		return out, fmt.Errorf("decoding %s row: %w", table.Name, err)
	}

	return out, nil
}

// timeDecodeHook turns driver timestamp representations into UTC
// time.Time values.
func timeDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}

	switch v := data.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return data, nil
	}
}

func parseTime(s string) (time.Time, error) {
	// time.Time.String appends the monotonic clock reading.
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// blobDecodeHook deserializes JSON blob columns into slices and maps.
func blobDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Slice && to.Kind() != reflect.Map {
		return data, nil
	}

	var raw []byte

	switch v := data.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		if to.Kind() == reflect.Slice && to.Elem().Kind() == reflect.Uint8 {
			return data, nil
		}

		raw = v
	default:
		return data, nil
	}

	ptr := reflect.New(to)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("deserializing %s: %w", to, err)
	}

	return ptr.Elem().Interface(), nil
}

// normalizeScalar converts driver byte slices into strings so aggregate
// results are printable and castable.
func normalizeScalar(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
