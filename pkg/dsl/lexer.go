package dsl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

var (
	ErrUnterminatedString = errors.New("unterminated string literal")
	ErrUnterminatedRegex  = errors.New("unterminated regex literal")
	ErrBadEscape          = errors.New("invalid escape sequence")
	ErrBadFlag            = errors.New("invalid regex flag")
	ErrNoDigitAfterDot    = errors.New("missing digit(s) after decimal point")
	ErrBadNumber          = errors.New("missing digit(s) after '-'")
	ErrIllegalCharacter   = errors.New("illegal character")
)

// LexError reports malformed DSL source at the offending character.
type LexError struct {
	Line    int
	Column  int
	Message string
	err     error
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at line %d column %d: %s", e.Line, e.Column, e.Message)
}

func (e *LexError) Unwrap() error {
	return e.err
}

func lexErrorAt(pos Position, err error, detail string) *LexError {
	msg := err.Error()
	if detail != "" {
		msg += ": " + detail
	}
	return &LexError{Line: pos.Line, Column: pos.Column, Message: msg, err: err}
}

type lexer struct {
	*lexBuf
	tokens chan Token
	err    *LexError
}

func lexString(text string) *lexer {
	return lexReader(strings.NewReader(text))
}

func lexReader(r io.Reader) *lexer {
	rr, ok := r.(io.RuneReader)
	if !ok {
		rr = bufio.NewReader(r)
	}
	return &lexer{tokens: make(chan Token), lexBuf: newLexBuf(rr)}
}

// Tokenize lexes source text completely.
// The first malformed character stops lexing and is reported as a *LexError.
func Tokenize(source string) ([]Token, error) {
	l := lexString(source)
	go l.lex()
	var tokens []Token
	for t := range l.tokens {
		if t.Kind == tokError {
			consumeTokens(l.tokens)
			return nil, l.lexError(t)
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func consumeTokens(ch <-chan Token) {
	for range ch {
	}
}

// lexError recovers the *LexError behind an error token.
// The error is recorded before the token is sent, so reading it after receiving the token is safe.
func (l *lexer) lexError(t Token) *LexError {
	if l != nil && l.err != nil {
		return l.err
	}
	return &LexError{Line: t.Line, Column: t.Column, Message: t.Text}
}

func (l *lexer) postToken(kind TokenKind) {
	pos := l.startPosition()
	text := l.consume()
	l.tokens <- Token{Kind: kind, Text: text, Line: pos.Line, Column: pos.Column}
}

func (l *lexer) handleLexErr(err error) {
	var lerr *LexError
	if !errors.As(err, &lerr) {
		lerr = lexErrorAt(l.startPosition(), err, "")
	}
	l.err = lerr
	l.tokens <- Token{Kind: tokError, Text: lerr.Message, Line: lerr.Line, Column: lerr.Column}
}

func (l *lexer) lex() {
	defer close(l.tokens)
	for {
		if err := l.skipSpace(); err != nil {
			if err == io.EOF {
				l.postToken(EOF)
				return
			}
			l.handleLexErr(err)
			return
		}
		start := l.position()
		c, err := l.read()
		if err != nil {
			if err == io.EOF {
				l.postToken(EOF)
				return
			}
			l.handleLexErr(err)
			return
		}
		switch {
		case c == '"':
			err = l.readString(start)
		case c == '/':
			err = l.readRegex(start)
		case c == '-' || isDigit(c):
			err = l.readNumber(c)
		case c == '{':
			l.postToken(LBRACE)
		case c == '}':
			l.postToken(RBRACE)
		case c == '(':
			l.postToken(LPAREN)
		case c == ')':
			l.postToken(RPAREN)
		case c == ',':
			l.postToken(COMMA)
		case strings.ContainsRune("=!~&|", c):
			err = l.readOperator(c, start)
		case isIdentStart(c):
			err = l.readIdentifier()
		default:
			err = lexErrorAt(start, ErrIllegalCharacter, fmt.Sprintf("%q", c))
		}
		if err != nil {
			l.handleLexErr(err)
			return
		}
	}
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '@' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) readString(start Position) error {
	for {
		c, err := l.read()
		if err == io.EOF {
			return lexErrorAt(start, ErrUnterminatedString, "")
		}
		if err != nil {
			return err
		}
		switch c {
		case '\n':
			return lexErrorAt(start, ErrUnterminatedString, "newline in string")
		case '\\':
			esc, err := l.read()
			if err == io.EOF {
				return lexErrorAt(start, ErrUnterminatedString, "")
			}
			if err != nil {
				return err
			}
			if !strings.ContainsRune(`"\ntr`, esc) {
				return lexErrorAt(l.lastPosition(), ErrBadEscape, fmt.Sprintf(`\%c`, esc))
			}
		case '"':
			l.postToken(STRING)
			return nil
		}
	}
}

func (l *lexer) readRegex(start Position) error {
	for {
		c, err := l.read()
		if err == io.EOF {
			return lexErrorAt(start, ErrUnterminatedRegex, "")
		}
		if err != nil {
			return err
		}
		switch c {
		case '\n':
			return lexErrorAt(start, ErrUnterminatedRegex, "newline in regex")
		case '\\':
			_, err := l.read()
			if err == io.EOF {
				return lexErrorAt(start, ErrUnterminatedRegex, "")
			}
			if err != nil {
				return err
			}
		case '/':
			return l.readRegexFlags()
		}
	}
}

func (l *lexer) readRegexFlags() error {
	for {
		c, err := l.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if strings.ContainsRune("ims", c) {
			continue
		}
		if isIdentPart(c) {
			return lexErrorAt(l.lastPosition(), ErrBadFlag, fmt.Sprintf("%q", c))
		}
		l.unread()
		break
	}
	l.postToken(REGEX)
	return nil
}

func (l *lexer) readNumber(first rune) error {
	if first == '-' {
		c, err := l.read()
		if err != nil && err != io.EOF {
			return err
		}
		if err == io.EOF || !isDigit(c) {
			return lexErrorAt(l.startPosition(), ErrBadNumber, "")
		}
	}
	for {
		c, err := l.read()
		if err == io.EOF {
			l.postToken(NUMBER)
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case isDigit(c):
			continue
		case c == '.':
			return l.readDecimal()
		default:
			l.unread()
			l.postToken(NUMBER)
			return nil
		}
	}
}

func (l *lexer) readDecimal() error {
	var hasRead bool
	for {
		c, err := l.read()
		if err != nil && err != io.EOF {
			return err
		}
		if err == nil && isDigit(c) {
			hasRead = true
			continue
		}
		if !hasRead {
			pos := l.position()
			if err == nil {
				pos = l.lastPosition()
			}
			return lexErrorAt(pos, ErrNoDigitAfterDot, "")
		}
		if err == nil {
			l.unread()
		}
		l.postToken(NUMBER)
		return nil
	}
}

func (l *lexer) readOperator(c rune, start Position) error {
	next, err := l.peek()
	if err != nil && err != io.EOF {
		return err
	}
	var second rune
	switch c {
	case '=', '~':
		second = '='
	case '!':
		if err == nil && next == '=' {
			_, _ = l.read()
		}
		l.postToken(OP)
		return nil
	case '&':
		second = '&'
	case '|':
		second = '|'
	}
	if err == io.EOF || next != second {
		return lexErrorAt(start, ErrIllegalCharacter, fmt.Sprintf("%q, did you mean '%c%c'?", c, c, second))
	}
	_, _ = l.read()
	l.postToken(OP)
	return nil
}

func (l *lexer) readIdentifier() error {
	for {
		c, err := l.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !isIdentPart(c) {
			l.unread()
			break
		}
	}
	if keywords[l.preview()] {
		l.postToken(KEYWORD)
		return nil
	}
	l.postToken(IDENT)
	return nil
}
