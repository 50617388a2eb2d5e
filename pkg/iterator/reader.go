package iterator

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// FromReader splits r into lines, stripping a trailing "\n" or "\r\n".
// A final line without a newline is still returned. Read errors other than io.EOF are passed through Next.
func FromReader(r io.Reader, source string) Iterator {
	var (
		br   = bufio.NewReader(r)
		num  int64
		done bool
	)
	return Func(func() (Line, error) {
		if done {
			return End()
		}
		text, err := br.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				done = true
				return Err(err)
			}
			done = true
			if text == "" {
				return End()
			}
		}
		num++
		return Line{
			Text:   TrimNewline(text),
			Num:    num,
			Source: source,
		}, nil
	})
}

// TrimNewline removes one trailing "\n" or "\r\n".
func TrimNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
