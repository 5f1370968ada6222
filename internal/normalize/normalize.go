// Package normalize turns heterogeneous source documents into type-stable
// rows that every encoder can write.
package normalize

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/chtzvt/docslurp/internal/job"
	"github.com/chtzvt/docslurp/internal/source"
)

// canonicalJSON sorts object keys and leaves HTML alone so the same document
// always serializes to the same bytes.
var canonicalJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

const (
	IDColumn      = "id"
	KeyColumn     = "timestamp"
	PayloadColumn = "payload"
)

// Column is one string-valued column after the fixed id and key columns.
type Column struct {
	Name     string
	Optional bool
}

// Row is a normalized record. Values line up with the normalizer's Columns;
// a nil value is a null.
type Row struct {
	ID     string
	Key    time.Time
	Values []*string
	// Size approximates the serialized size of the row in bytes.
	Size int
}

// Value returns column i as a string, empty for nulls.
func (r Row) Value(i int) string {
	if i < 0 || i >= len(r.Values) || r.Values[i] == nil {
		return ""
	}
	return *r.Values[i]
}

type Normalizer struct {
	mode    string
	fields  [][]string
	columns []Column
}

func New(opts job.NormalizeOptions) (*Normalizer, error) {
	n := &Normalizer{mode: opts.Mode}
	switch opts.Mode {
	case "", job.NormalizePayload:
		n.mode = job.NormalizePayload
		n.columns = []Column{{Name: PayloadColumn}}
	case job.NormalizeStructured:
		if len(opts.Fields) == 0 {
			return nil, fmt.Errorf("structured normalization needs at least one field")
		}
		seen := make(map[string]bool)
		for _, f := range opts.Fields {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] || f == IDColumn || f == KeyColumn {
				return nil, fmt.Errorf("invalid or duplicate structured field %q", f)
			}
			seen[f] = true
			n.fields = append(n.fields, strings.Split(f, "."))
			n.columns = append(n.columns, Column{Name: f, Optional: true})
		}
	default:
		return nil, fmt.Errorf("unknown normalize mode %q", opts.Mode)
	}
	return n, nil
}

// Columns lists the value columns in row order.
func (n *Normalizer) Columns() []Column {
	out := make([]Column, len(n.columns))
	copy(out, n.columns)
	return out
}

// Normalize never fails: anything that cannot be represented is coerced to
// its string form.
func (n *Normalizer) Normalize(r *source.Record) Row {
	row := Row{ID: r.ID, Key: r.Key.UTC()}
	row.Size = len(row.ID) + 8

	if n.mode == job.NormalizePayload {
		p := Canonical(r.Doc)
		row.Values = []*string{&p}
		row.Size += len(p)
		return row
	}

	row.Values = make([]*string, len(n.fields))
	for i, path := range n.fields {
		v, ok := lookup(r.Doc, path)
		if !ok || v == nil {
			continue
		}
		s := scalarText(v)
		row.Values[i] = &s
		row.Size += len(s)
	}
	return row
}

// Canonical renders v as JSON with sorted keys, UTC timestamps and no
// non-finite numbers.
func Canonical(v interface{}) string {
	b, err := canonicalJSON.Marshal(canonicalize(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, p := range path {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			rv := reflect.ValueOf(cur)
			if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
				return nil, false
			}
			mv := rv.MapIndex(reflect.ValueOf(p).Convert(rv.Type().Key()))
			if !mv.IsValid() {
				return nil, false
			}
			cur = mv.Interface()
		}
	}
	return cur, true
}

// scalarText renders strings and timestamps bare and everything else as
// canonical JSON.
func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return formatTime(t)
	case *time.Time:
		if t != nil {
			return formatTime(*t)
		}
	}
	c := canonicalize(v)
	if s, ok := c.(string); ok {
		return s
	}
	return Canonical(v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}

// canonicalize maps v onto plain JSON values.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case time.Time:
		return formatTime(t)
	case time.Duration:
		return t.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case map[string]interface{}:
		if t == nil {
			return nil
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = canonicalize(e)
		}
		return out
	case []interface{}:
		if t == nil {
			return nil
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return canonicalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[keyString(iter.Key())] = canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = canonicalize(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float())
	}
	return fmt.Sprint(v)
}

func keyString(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return fmt.Sprint(k.Interface())
}
