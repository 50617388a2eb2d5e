package entries

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// LineField always holds the text that a route action will deliver.
// It starts out as the raw line, and rules may transform or replace it.
const LineField = "line"

// Entry is the per-line context that rules are evaluated against.
// A field is either present with a string value, or absent.
// Entries are not safe for concurrent use, and are discarded once the line is processed.
type Entry struct {
	Num    int64
	Source string
	raw    string
	fields map[string]string
}

// New creates an Entry holding only the LineField.
func New(raw string) *Entry {
	return &Entry{
		raw:    raw,
		fields: map[string]string{LineField: raw},
	}
}

// Raw returns the line as it was read, regardless of any changes to LineField.
func (e *Entry) Raw() string {
	return e.raw
}

func (e *Entry) Has(name string) bool {
	_, ok := e.fields[name]
	return ok
}

func (e *Entry) Get(name string) (string, bool) {
	v, ok := e.fields[name]
	return v, ok
}

func (e *Entry) Set(name, value string) {
	e.fields[name] = value
}

func (e *Entry) Len() int {
	return len(e.fields)
}

// Payload returns the current value of LineField, falling back to the raw line if it was never set.
func (e *Entry) Payload() string {
	if v, ok := e.fields[LineField]; ok {
		return v
	}
	return e.raw
}

// Fields returns a copy of all present fields.
func (e *Entry) Fields() map[string]string {
	cp := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		cp[k] = v
	}
	return cp
}

// Names returns present field names in sorted order.
func (e *Entry) Names() []string {
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Stringify converts a decoded JSON value into the string form used for field values.
func Stringify(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	case fmt.Stringer:
		return v.String(), true
	case error:
		return v.Error(), true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), true
		}
		return string(data), true
	}
}
