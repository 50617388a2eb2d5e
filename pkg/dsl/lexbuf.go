package dsl

import (
	"errors"
	"io"
	"unicode"
)

var (
	lexBufferSize = 4096

	errTokenTooLong = errors.New("token exceeds lexer buffer")
)

// Position is a 1-based line and column (in runes) within DSL source text.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// lexBuf is a ring buffer of runes read from an io.RuneReader.
// Runes between startPtr and readPtr make up the token being built.
type lexBuf struct {
	startPtr int
	readPtr  int
	writePtr int
	buf      []rune
	posBuf   []Position
	r        io.RuneReader
	next     Position
}

func newLexBuf(reader io.RuneReader) *lexBuf {
	return newLexBufSize(reader, lexBufferSize)
}

func newLexBufSize(reader io.RuneReader, size int) *lexBuf {
	return &lexBuf{
		r:      reader,
		buf:    make([]rune, size),
		posBuf: make([]Position, size),
		next:   Position{Line: 1, Column: 1},
	}
}

func (b *lexBuf) decrement(i int) int {
	return (i - 1 + len(b.buf)) % len(b.buf)
}

func (b *lexBuf) increment(i int) int {
	return (i + 1) % len(b.buf)
}

func (b *lexBuf) readerRead() error {
	r, _, err := b.r.ReadRune()
	if err != nil {
		return err
	}
	if b.increment(b.writePtr) == b.startPtr {
		return errTokenTooLong
	}
	b.buf[b.writePtr] = r
	b.posBuf[b.writePtr] = b.next
	b.writePtr = b.increment(b.writePtr)

	if r == '\n' {
		b.next.Line++
		b.next.Column = 1
	} else {
		b.next.Column++
	}
	return nil
}

func (b *lexBuf) read() (rune, error) {
	c, err := b.peek()
	if err != nil {
		return 0, err
	}
	b.readPtr = b.increment(b.readPtr)
	return c, nil
}

func (b *lexBuf) peek() (rune, error) {
	if b.readPtr == b.writePtr {
		if err := b.readerRead(); err != nil && err != io.EOF {
			return 0, err
		}
	}
	if b.readPtr == b.writePtr {
		return 0, io.EOF
	}
	return b.buf[b.readPtr], nil
}

func (b *lexBuf) unread() {
	if b.readPtr == b.startPtr {
		return
	}
	b.readPtr = b.decrement(b.readPtr)
}

// position reports where the next unread rune sits.
func (b *lexBuf) position() Position {
	if b.readPtr == b.writePtr {
		return b.next
	}
	return b.posBuf[b.readPtr]
}

// lastPosition reports where the most recently read rune sits.
func (b *lexBuf) lastPosition() Position {
	if b.readPtr == b.startPtr {
		return b.position()
	}
	return b.posBuf[b.decrement(b.readPtr)]
}

// startPosition reports where the token being built starts.
func (b *lexBuf) startPosition() Position {
	if b.startPtr == b.writePtr {
		return b.next
	}
	return b.posBuf[b.startPtr]
}

func (b *lexBuf) discard() {
	b.startPtr = b.readPtr
}

func (b *lexBuf) consume() string {
	s := b.preview()
	b.discard()
	return s
}

func (b *lexBuf) preview() string {
	if b.startPtr == b.readPtr {
		return ""
	}

	if b.startPtr > b.readPtr {
		return string(append(append([]rune{}, b.buf[b.startPtr:]...), b.buf[0:b.readPtr]...))
	}
	return string(b.buf[b.startPtr:b.readPtr])
}

// skipSpace discards whitespace and '#' comments.
func (b *lexBuf) skipSpace() error {
	defer b.discard()
	inComment := false
	for {
		c, err := b.read()
		if err != nil {
			return err
		}
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case c == '#':
			inComment = true
		case !unicode.IsSpace(c):
			b.unread()
			return nil
		}
		// Comments may run past the buffer size, so the window is kept empty.
		b.discard()
	}
}
