package entries

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestEntry(t *testing.T) {
	entry := New("a line")
	assert.Equal(t, "a line", entry.Raw())
	assert.Equal(t, "a line", entry.Payload())
	assert.True(t, entry.Has(LineField))
	assert.False(t, entry.Has("severity"))

	entry.Set("severity", "ERROR")
	val, ok := entry.Get("severity")
	assert.True(t, ok)
	assert.Equal(t, "ERROR", val)

	entry.Set(LineField, "changed")
	assert.Equal(t, "changed", entry.Payload())
	assert.Equal(t, "a line", entry.Raw(), "Raw should never change")

	assert.ElementsMatch(t, []string{LineField, "severity"}, entry.Names())
}

func TestEntry_FieldsIsACopy(t *testing.T) {
	entry := New("x")
	fields := entry.Fields()
	fields["injected"] = "value"
	assert.False(t, entry.Has("injected"))
	assert.Equal(t, 1, entry.Len())
}

func TestRegexExtractor(t *testing.T) {
	x, err := NewRegexExtractor(`^(?P<timestamp>\S+)\s+(?P<source>\S+)\s+(?P<severity>[A-Z]+)\s+(?P<message>.*)$`)
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "source", "severity", "message"}, x.Fields())
	assert.Equal(t, []string{LineField, "timestamp", "source", "severity", "message"}, WellKnown(x))

	tests := map[string]struct {
		line     string
		expected map[string]string
	}{
		"well formed": {
			line: "2023-01-01T00:00:00Z api ERROR something broke",
			expected: map[string]string{
				LineField:   "2023-01-01T00:00:00Z api ERROR something broke",
				"timestamp": "2023-01-01T00:00:00Z",
				"source":    "api",
				"severity":  "ERROR",
				"message":   "something broke",
			},
		},
		"malformed": {
			line: "garbage",
			expected: map[string]string{
				LineField: "garbage",
			},
		},
		"empty": {
			line: "",
			expected: map[string]string{
				LineField: "",
			},
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			entry := Extract(x, tc.line, 1, "test")
			assert.Equal(t, tc.expected, entry.Fields())
			assert.Equal(t, int64(1), entry.Num)
			assert.Equal(t, "test", entry.Source)
		})
	}
}

func TestRegexExtractor_OptionalGroup(t *testing.T) {
	x, err := NewRegexExtractor(`^(?P<severity>[A-Z]+)(?: \[(?P<request>[^\]]+)\])?`)
	require.NoError(t, err)

	entry := Extract(x, "INFO hello", 1, "")
	assert.True(t, entry.Has("severity"))
	assert.False(t, entry.Has("request"), "A group that didn't participate should be absent")

	entry = Extract(x, "INFO [abc] hello", 2, "")
	req, ok := entry.Get("request")
	assert.True(t, ok)
	assert.Equal(t, "abc", req)
}

func TestNewRegexExtractor_Invalid(t *testing.T) {
	_, err := NewRegexExtractor(`^\S+$`)
	assert.ErrorIs(t, err, ErrNoNamedGroups)

	_, err = NewRegexExtractor(`^(?P<line>.*)$`)
	assert.ErrorIs(t, err, ErrReservedField)

	_, err = NewRegexExtractor(`(`)
	assert.Error(t, err)
}

func TestJSONExtractor(t *testing.T) {
	x, err := NewJSONExtractor("severity", "status", "ok", "nested", "missing")
	require.NoError(t, err)

	entry := Extract(x, `{"severity":"WARN","status":503,"ok":false,"nested":{"a":1},"other":"x"}`, 1, "")
	assert.Equal(t, map[string]string{
		LineField:  `{"severity":"WARN","status":503,"ok":false,"nested":{"a":1},"other":"x"}`,
		"severity": "WARN",
		"status":   "503",
		"ok":       "false",
		"nested":   `{"a":1}`,
	}, entry.Fields())

	entry = Extract(x, `not json`, 2, "")
	assert.Equal(t, []string{LineField}, entry.Names())

	entry = Extract(x, `{"severity": "broken`, 3, "")
	assert.Equal(t, []string{LineField}, entry.Names())

	entry = Extract(x, `{"severity": null}`, 4, "")
	assert.False(t, entry.Has("severity"), "A null value should leave the field absent")
}

func TestNewJSONExtractor_Invalid(t *testing.T) {
	_, err := NewJSONExtractor()
	assert.ErrorIs(t, err, ErrNoFields)

	_, err = NewJSONExtractor("a", "a")
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestExtract_NilExtractor(t *testing.T) {
	entry := Extract(nil, "text", 3, "src")
	assert.Equal(t, []string{LineField}, entry.Names())
	assert.Equal(t, []string{LineField}, WellKnown(nil))
	assert.Empty(t, Nop{}.Fields())
}
