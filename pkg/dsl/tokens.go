package dsl

import "fmt"

// TokenKind classifies a Token.
type TokenKind int

const (
	tokError TokenKind = iota - 1
	EOF
	IDENT
	STRING
	REGEX
	NUMBER
	OP
	KEYWORD
	LBRACE
	RBRACE
	LPAREN
	RPAREN
	COMMA
)

var kindStrings = map[TokenKind]string{
	tokError: "error",
	EOF:      "end of input",
	IDENT:    "identifier",
	STRING:   "string",
	REGEX:    "regex",
	NUMBER:   "number",
	OP:       "operator",
	KEYWORD:  "keyword",
	LBRACE:   "{",
	RBRACE:   "}",
	LPAREN:   "(",
	RPAREN:   ")",
	COMMA:    ",",
}

func (k TokenKind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]bool{
	"rule":      true,
	"when":      true,
	"then":      true,
	"route":     true,
	"set":       true,
	"transform": true,
	"stop":      true,
	"continue":  true,
	"true":      true,
	"false":     true,
	"has":       true,
}

// Token is a single lexical element of DSL source.
// Text holds the source text of the token, including quotes and regex delimiters.
type Token struct {
	Kind   TokenKind `json:"kind"`
	Text   string    `json:"text"`
	Line   int       `json:"line"`
	Column int       `json:"column"`
}

func (t Token) is(kind TokenKind, text string) bool {
	return t.Kind == kind && t.Text == text
}

func (t Token) describe() string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case STRING, REGEX, NUMBER, IDENT:
		return fmt.Sprintf("%s %s", t.Kind, t.Text)
	default:
		return fmt.Sprintf("'%s'", t.Text)
	}
}

const (
	streamSize = 64
)

// tokenStream allows the parser to look ahead by pushing tokens back.
// Once an error token is seen, it's returned for every subsequent read.
type tokenStream struct {
	pull func() (Token, bool)
	buf  [streamSize]Token
	idx  int
	err  *Token
	last Token
}

func newChannelStream(ch <-chan Token) *tokenStream {
	return &tokenStream{
		pull: func() (Token, bool) {
			t, ok := <-ch
			return t, ok
		},
	}
}

func newSliceStream(tokens []Token) *tokenStream {
	var i int
	return &tokenStream{
		pull: func() (Token, bool) {
			if i >= len(tokens) {
				return Token{}, false
			}
			t := tokens[i]
			i++
			return t, true
		},
	}
}

func (s *tokenStream) peek() Token {
	t := s.next()
	s.pushBack(t)
	return t
}

func (s *tokenStream) next() Token {
	if s.err != nil {
		return *s.err
	}
	if s.idx > 0 {
		s.idx--
		return s.buf[s.idx]
	}
	t, ok := s.pull()
	if !ok {
		return Token{Kind: EOF, Line: s.last.Line, Column: s.last.Column + len([]rune(s.last.Text))}
	}
	if t.Kind == tokError {
		s.err = &t
		return t
	}
	s.last = t
	return t
}

func (s *tokenStream) pushBack(tokens ...Token) {
	for _, t := range tokens {
		if t.Kind == tokError {
			continue
		}
		if s.idx == streamSize {
			panic("stream filled to capacity")
		}
		s.buf[s.idx] = t
		s.idx++
	}
}
