package entries

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrEmptyDelimiter = errors.New("cut delimiter must not be empty")
)

var _ Extractor = (*CutExtractor)(nil)

// CutExtractor parses a line into more atomic parts by splitting on one or more instances of a delimiter, much like the unix cut command.
// Sequential delimiters are treated as one, so aligned columns split the way a reader would expect.
type CutExtractor struct {
	delimiter string
	spec      CutCollectSpec
	remainder string
}

// CutCollectSpec specifies the destination field for each index of the split line.
// Any unmapped parts will be ignored, or collected into the remainder field if one is set.
type CutCollectSpec map[int]string

func NewCutCollectSpec() CutCollectSpec {
	return CutCollectSpec{}
}

// Map will copy the part at idx to field.
// Map can accept negative indexes to refer to parts at the end of a line of text, starting with -1.
// Map calls can override each other by specifying the same idx multiple times.
func (c CutCollectSpec) Map(field string, idx int) CutCollectSpec {
	c[idx] = field
	return c
}

func (c CutCollectSpec) fields() []string {
	idxs := make([]int, 0, len(c))
	for i := range c {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	names := make([]string, 0, len(idxs))
	for _, i := range idxs {
		names = append(names, c[i])
	}
	return names
}

// NewCutExtractor creates a CutExtractor splitting on delimiter.
// If remainder is not empty, parts that are not mapped by spec are joined with the delimiter and stored in that field.
func NewCutExtractor(delimiter string, spec CutCollectSpec, remainder string) (*CutExtractor, error) {
	if delimiter == "" {
		return nil, ErrEmptyDelimiter
	}
	if len(spec) == 0 {
		return nil, ErrNoFields
	}
	names := spec.fields()
	if remainder != "" {
		names = append(names, remainder)
	}
	if err := checkFieldNames(names); err != nil {
		return nil, fmt.Errorf("cut extractor: %w", err)
	}
	cp := make(CutCollectSpec, len(spec))
	for k, v := range spec {
		cp[k] = v
	}
	return &CutExtractor{
		delimiter: delimiter,
		spec:      cp,
		remainder: remainder,
	}, nil
}

func (x *CutExtractor) Fields() []string {
	names := x.spec.fields()
	if x.remainder != "" {
		names = append(names, x.remainder)
	}
	return names
}

func (x *CutExtractor) Extract(e *Entry) {
	parts := Split(e.Raw(), x.delimiter)
	if len(parts) == 0 {
		return
	}
	var (
		rest  strings.Builder
		wrote bool
	)
	for i, p := range parts {
		field, ok := x.spec[i]
		if ok {
			e.Set(field, p)
		}
		ifield, iok := x.spec[i-len(parts)]
		if iok {
			e.Set(ifield, p)
		}
		if ok || iok {
			continue
		}
		if wrote {
			rest.WriteString(x.delimiter)
		}
		wrote = true
		rest.WriteString(p)
	}
	if x.remainder != "" && wrote {
		e.Set(x.remainder, rest.String())
	}
}

// Split cuts s on delim, collapsing runs of delim and dropping empty parts at either end.
func Split(s, delim string) []string {
	raw := strings.Split(s, delim)
	parts := raw[:0]
	for _, p := range raw {
		if p == "" {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}
