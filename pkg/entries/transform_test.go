package entries

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestBuildTransform(t *testing.T) {
	tests := map[string]struct {
		op       string
		args     []Arg
		input    string
		expected string
	}{
		"upper":          {op: "upper", input: "error", expected: "ERROR"},
		"lower":          {op: "lower", input: "ERROR", expected: "error"},
		"trim":           {op: "trim", input: "  padded\t", expected: "padded"},
		"prefix":         {op: "prefix", args: []Arg{{Text: "[api] "}}, input: "msg", expected: "[api] msg"},
		"suffix":         {op: "suffix", args: []Arg{{Text: "!"}}, input: "msg", expected: "msg!"},
		"replace":        {op: "replace", args: []Arg{{Text: `\d+`}, {Text: "N"}}, input: "id 123 and 45", expected: "id N and N"},
		"replace groups": {op: "replace", args: []Arg{{Text: `(\w+)=(\w+)`}, {Text: "$2=$1"}}, input: "a=b", expected: "b=a"},
		"cut":            {op: "cut", args: []Arg{{Text: ":"}, {Text: "1", IsNumber: true}}, input: "a:b:c", expected: "b"},
		"cut negative":   {op: "cut", args: []Arg{{Text: ":"}, {Text: "-1", IsNumber: true}}, input: "a:b:c", expected: "c"},
		"cut range":      {op: "cut", args: []Arg{{Text: ":"}, {Text: "5", IsNumber: true}}, input: "a:b:c", expected: ""},
		"truncate":       {op: "truncate", args: []Arg{{Text: "3", IsNumber: true}}, input: "abcdef", expected: "abc"},
		"truncate short": {op: "truncate", args: []Arg{{Text: "10", IsNumber: true}}, input: "abc", expected: "abc"},
		"truncate runes": {op: "truncate", args: []Arg{{Text: "2", IsNumber: true}}, input: "äöü", expected: "äö"},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			fn, err := BuildTransform(tc.op, tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, fn(tc.input))
		})
	}
}

func TestBuildTransform_Invalid(t *testing.T) {
	tests := map[string]struct {
		op   string
		args []Arg
		err  error
	}{
		"unknown":           {op: "reverse", err: ErrUnknownTransform},
		"too many":          {op: "upper", args: []Arg{{Text: "x"}}, err: ErrTransformArgs},
		"too few":           {op: "prefix", err: ErrTransformArgs},
		"wrong kind":        {op: "truncate", args: []Arg{{Text: "3"}}, err: ErrTransformArgs},
		"fractional":        {op: "truncate", args: []Arg{{Text: "1.5", IsNumber: true}}, err: ErrTransformArgs},
		"negative truncate": {op: "truncate", args: []Arg{{Text: "-1", IsNumber: true}}, err: ErrTransformArgs},
		"bad pattern":       {op: "replace", args: []Arg{{Text: "("}, {Text: ""}}, err: ErrTransformArgs},
		"empty delimiter":   {op: "cut", args: []Arg{{Text: ""}, {Text: "0", IsNumber: true}}, err: ErrTransformArgs},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			_, err := BuildTransform(tc.op, tc.args)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestTransformFunc_Apply(t *testing.T) {
	fn, err := BuildTransform("upper", nil)
	require.NoError(t, err)

	entry := New("x")
	entry.Set("severity", "warn")
	fn.Apply(entry, "severity")
	fn.Apply(entry, "missing")
	val, _ := entry.Get("severity")
	assert.Equal(t, "WARN", val)
	assert.False(t, entry.Has("missing"), "Transforming an absent field should leave it absent")
}

func TestTransforms(t *testing.T) {
	ops := Transforms()
	var names []string
	for _, op := range ops {
		names = append(names, op.Name)
		assert.NotEmpty(t, op.Doc)
	}
	assert.Equal(t, []string{"cut", "lower", "prefix", "replace", "suffix", "trim", "truncate", "upper"}, names)

	op, ok := LookupTransform("cut")
	require.True(t, ok)
	assert.Equal(t, "cut, string, number", op.Usage())
}
