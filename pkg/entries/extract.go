package entries

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNoNamedGroups  = errors.New("extractor pattern has no named groups")
	ErrReservedField  = errors.New("field name is reserved")
	ErrNoFields       = errors.New("no fields declared")
	ErrDuplicateField = errors.New("field declared more than once")
)

// Extractor populates the well-known fields of an Entry from its raw line.
// Extraction is best-effort: a line that doesn't have the expected shape simply leaves fields absent.
type Extractor interface {
	// Fields lists the well-known field names this extractor may populate, not including LineField.
	Fields() []string
	// Extract sets whatever well-known fields can be found in the raw line.
	Extract(e *Entry)
}

// Extract creates a new Entry for a raw line using ex.
func Extract(ex Extractor, raw string, num int64, source string) *Entry {
	e := New(raw)
	e.Num = num
	e.Source = source
	if ex != nil {
		ex.Extract(e)
	}
	return e
}

// WellKnown returns every field name a freshly extracted Entry may hold, including LineField.
func WellKnown(ex Extractor) []string {
	names := []string{LineField}
	if ex == nil {
		return names
	}
	return append(names, ex.Fields()...)
}

func checkFieldNames(names []string) error {
	seen := map[string]bool{}
	for _, n := range names {
		if n == LineField {
			return fmt.Errorf("%w: %s", ErrReservedField, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: %s", ErrDuplicateField, n)
		}
		seen[n] = true
	}
	return nil
}

// Nop is an Extractor that provides no well-known fields.
type Nop struct{}

func (Nop) Fields() []string { return nil }
func (Nop) Extract(*Entry)   {}

var _ Extractor = (*RegexExtractor)(nil)

// RegexExtractor uses the named capture groups of a regular expression as the well-known fields.
// Groups that don't participate in a match are left absent.
type RegexExtractor struct {
	re     *regexp.Regexp
	names  []string
	groups []int
}

func NewRegexExtractor(pattern string) (*RegexExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	x := &RegexExtractor{re: re}
	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		x.names = append(x.names, name)
		x.groups = append(x.groups, i)
	}
	if len(x.names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNamedGroups, pattern)
	}
	if err := checkFieldNames(x.names); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *RegexExtractor) Fields() []string {
	return append([]string(nil), x.names...)
}

func (x *RegexExtractor) Extract(e *Entry) {
	m := x.re.FindStringSubmatchIndex(e.Raw())
	if m == nil {
		return
	}
	for i, g := range x.groups {
		start, end := m[2*g], m[2*g+1]
		if start < 0 {
			continue
		}
		e.Set(x.names[i], e.Raw()[start:end])
	}
}

var _ Extractor = (*JSONExtractor)(nil)

// JSONExtractor reads declared top-level keys from lines that are JSON objects.
// Non-string values are converted with Stringify. Lines that aren't JSON objects get no fields.
type JSONExtractor struct {
	names []string
}

func NewJSONExtractor(fields ...string) (*JSONExtractor, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	if err := checkFieldNames(fields); err != nil {
		return nil, err
	}
	return &JSONExtractor{names: append([]string(nil), fields...)}, nil
}

func (x *JSONExtractor) Fields() []string {
	return append([]string(nil), x.names...)
}

func (x *JSONExtractor) Extract(e *Entry) {
	raw := strings.TrimSpace(e.Raw())
	if !strings.HasPrefix(raw, "{") {
		return
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return
	}
	for _, name := range x.names {
		v, ok := doc[name]
		if !ok {
			continue
		}
		if s, ok := Stringify(v); ok {
			e.Set(name, s)
		}
	}
}
