package event

import (
	"encoding/json"
)

// Output is produced by a route action: one payload addressed to one destination.
type Output struct {
	Destination string `json:"destination"`
	// Payload is the value of the line field when the route action ran.
	Payload string `json:"payload"`
	// Fields is a snapshot of the line context when the route action ran.
	Fields map[string]string `json:"fields,omitempty"`
	// Line is the 1-based number of the input line within its source.
	Line   int64  `json:"line"`
	Source string `json:"source,omitempty"`
}

// Encoding controls how a destination serializes an Output.
type Encoding string

const (
	// EncodeLine writes the payload followed by a newline.
	EncodeLine Encoding = "line"
	// EncodeJSON writes the whole Output as a JSON object followed by a newline.
	EncodeJSON Encoding = "json"
)

func (e Encoding) Valid() bool {
	switch e {
	case EncodeLine, EncodeJSON, "":
		return true
	default:
		return false
	}
}

// Encode serializes out according to enc. An empty Encoding is EncodeLine.
func (e Encoding) Encode(out Output) ([]byte, error) {
	if e == EncodeJSON {
		data, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return []byte(out.Payload + "\n"), nil
}
