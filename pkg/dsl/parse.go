package dsl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrUnexpectedToken = errors.New("unexpected token")
)

// ParseError reports a token that doesn't fit the grammar.
type ParseError struct {
	Line     int
	Column   int
	Expected []string
	Found    string
}

func (e *ParseError) Error() string {
	expect := strings.Join(e.Expected, ", ")
	if len(e.Expected) > 1 {
		expect = "one of " + expect
	}
	return fmt.Sprintf("parse error at line %d column %d: %s: expected %s, found %s", e.Line, e.Column, ErrUnexpectedToken, expect, e.Found)
}

func (e *ParseError) Unwrap() error {
	return ErrUnexpectedToken
}

type parser struct {
	l   *lexer
	str *tokenStream
}

// ParseString parses a complete ruleset.
// Any lex or parse error rejects the whole ruleset.
func ParseString(s string) ([]*RuleDecl, error) {
	return parseLexer(lexString(s))
}

// ParseReader parses a complete ruleset from r.
func ParseReader(r io.Reader) ([]*RuleDecl, error) {
	return parseLexer(lexReader(r))
}

// ParseFile parses the ruleset in the named file.
func ParseFile(file string) ([]*RuleDecl, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseReader(f)
}

// ParseTokens parses an already tokenized ruleset, as produced by Tokenize.
func ParseTokens(tokens []Token) ([]*RuleDecl, error) {
	p := &parser{str: newSliceStream(tokens)}
	return p.parse()
}

func parseLexer(l *lexer) ([]*RuleDecl, error) {
	p := &parser{l: l, str: newChannelStream(l.tokens)}
	go l.lex()
	decls, err := p.parse()
	if err != nil {
		consumeTokens(l.tokens)
	}
	return decls, err
}

func (p *parser) unexpected(t Token, expected ...string) error {
	if t.Kind == tokError {
		return p.l.lexError(t)
	}
	return &ParseError{
		Line:     t.Line,
		Column:   t.Column,
		Expected: expected,
		Found:    t.describe(),
	}
}

func (p *parser) expectKind(kind TokenKind, what string) (Token, error) {
	t := p.str.next()
	if t.Kind != kind {
		return t, p.unexpected(t, what)
	}
	return t, nil
}

func (p *parser) expectText(kind TokenKind, text string) (Token, error) {
	t := p.str.next()
	if !t.is(kind, text) {
		return t, p.unexpected(t, "'"+text+"'")
	}
	return t, nil
}

func (p *parser) parse() ([]*RuleDecl, error) {
	var decls []*RuleDecl
	for {
		t := p.str.next()
		switch {
		case t.Kind == EOF:
			return decls, nil
		case t.is(KEYWORD, "rule"):
			decl, err := p.parseRule(t)
			if err != nil {
				return nil, err
			}
			decls = append(decls, decl)
		default:
			return nil, p.unexpected(t, "'rule'", "end of input")
		}
	}
}

func (p *parser) parseRule(kw Token) (*RuleDecl, error) {
	decl := new(RuleDecl)
	decl.setVals(kw, RULE)

	t := p.str.next()
	if t.Kind == IDENT {
		decl.Name = t.Text
		t = p.str.next()
	}
	if t.Kind != LBRACE {
		if decl.Name == "" {
			return nil, p.unexpected(t, "rule name", "'{'")
		}
		return nil, p.unexpected(t, "'{'")
	}

	if _, err := p.expectText(KEYWORD, "when"); err != nil {
		return nil, err
	}
	when, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	decl.When = when
	if _, err := p.expectText(KEYWORD, "then"); err != nil {
		return nil, err
	}

	for {
		t := p.str.peek()
		if t.Kind == RBRACE {
			p.str.next()
			if len(decl.Actions) == 0 {
				return nil, p.unexpected(t, "action")
			}
			return decl, nil
		}
		action, err := p.parseAction()
		if err != nil {
			return nil, err
		}
		decl.Actions = append(decl.Actions, action)
	}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		op := p.str.next()
		if !op.is(OP, "||") {
			p.str.pushBack(op)
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		or := &BoolOr{Left: left, Right: right}
		or.setVals(op, OR)
		left = or
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		op := p.str.next()
		if !op.is(OP, "&&") {
			p.str.pushBack(op)
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		and := &BoolAnd{Left: left, Right: right}
		and.setVals(op, AND)
		left = and
	}
}

func (p *parser) parseNot() (Expr, error) {
	t := p.str.next()
	if !t.is(OP, "!") {
		p.str.pushBack(t)
		return p.parsePrimary()
	}
	inner, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	not := &BoolNot{Inner: inner}
	not.setVals(t, NOT)
	return not, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.str.next()
	switch {
	case t.Kind == LPAREN:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(RPAREN, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case t.is(KEYWORD, "true"), t.is(KEYWORD, "false"):
		lit := &Literal{Value: t.Text == "true"}
		lit.setVals(t, LITERAL)
		return lit, nil
	case t.is(KEYWORD, "has"):
		return p.parseHas(t)
	case t.Kind == IDENT:
		return p.parseFieldMatch(t)
	default:
		return nil, p.unexpected(t, "field name", "'('", "'!'", "'true'", "'false'", "'has'")
	}
}

func (p *parser) parseHas(kw Token) (Expr, error) {
	if _, err := p.expectKind(LPAREN, "'('"); err != nil {
		return nil, err
	}
	field, err := p.expectKind(IDENT, "field name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(RPAREN, "')'"); err != nil {
		return nil, err
	}
	has := &HasField{Field: field.Text}
	has.setVals(kw, HAS)
	return has, nil
}

func (p *parser) parseFieldMatch(field Token) (Expr, error) {
	match := &FieldMatch{Field: field.Text}
	match.setVals(field, FIELD_MATCH)

	op := p.str.next()
	switch {
	case op.is(OP, "=="):
		match.Op = OpEqual
	case op.is(OP, "!="):
		match.Op = OpNotEqual
	case op.is(OP, "~="):
		match.Op = OpMatch
	default:
		return nil, p.unexpected(op, "'=='", "'!='", "'~='")
	}

	val := p.str.next()
	switch val.Kind {
	case STRING:
		match.Value = unquote(val.Text)
	case REGEX:
		match.Value, match.Flags = splitRegex(val.Text)
		match.IsPattern = true
	default:
		return nil, p.unexpected(val, "string", "regex")
	}
	return match, nil
}

func (p *parser) parseAction() (Action, error) {
	t := p.str.next()
	switch {
	case t.is(KEYWORD, "route"):
		return p.parseRoute(t)
	case t.is(KEYWORD, "set"):
		return p.parseSet(t)
	case t.is(KEYWORD, "transform"):
		return p.parseTransform(t)
	case t.is(KEYWORD, "stop"):
		stop := new(Stop)
		stop.setVals(t, STOP)
		return stop, nil
	case t.is(KEYWORD, "continue"):
		cont := new(Continue)
		cont.setVals(t, CONTINUE)
		return cont, nil
	default:
		return nil, p.unexpected(t, "'route'", "'set'", "'transform'", "'stop'", "'continue'", "'}'")
	}
}

func (p *parser) parseRoute(kw Token) (Action, error) {
	if _, err := p.expectKind(LPAREN, "'('"); err != nil {
		return nil, err
	}
	dest, err := p.expectKind(IDENT, "destination name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(RPAREN, "')'"); err != nil {
		return nil, err
	}
	route := &Route{Destination: dest.Text}
	route.setVals(kw, ROUTE)
	return route, nil
}

func (p *parser) parseSet(kw Token) (Action, error) {
	if _, err := p.expectKind(LPAREN, "'('"); err != nil {
		return nil, err
	}
	field, err := p.expectKind(IDENT, "field name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(COMMA, "','"); err != nil {
		return nil, err
	}
	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(RPAREN, "')'"); err != nil {
		return nil, err
	}
	set := &SetField{Field: field.Text, Value: val}
	set.setVals(kw, SET)
	return set, nil
}

func (p *parser) parseTransform(kw Token) (Action, error) {
	if _, err := p.expectKind(LPAREN, "'('"); err != nil {
		return nil, err
	}
	field, err := p.expectKind(IDENT, "field name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKind(COMMA, "','"); err != nil {
		return nil, err
	}
	op, err := p.expectKind(IDENT, "transform operation")
	if err != nil {
		return nil, err
	}
	trans := &Transform{Field: field.Text, Op: op.Text}
	trans.setVals(kw, TRANSFORM)

	for {
		t := p.str.next()
		switch t.Kind {
		case RPAREN:
			return trans, nil
		case COMMA:
			val, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			trans.Args = append(trans.Args, val)
		default:
			return nil, p.unexpected(t, "','", "')'")
		}
	}
}

func (p *parser) parseValue() (Value, error) {
	t := p.str.next()
	switch t.Kind {
	case STRING:
		return Value{Text: unquote(t.Text)}, nil
	case NUMBER:
		return Value{Text: t.Text, IsNumber: true}, nil
	default:
		return Value{}, p.unexpected(t, "string", "number")
	}
}

// unquote decodes a string token that the lexer already validated.
func unquote(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, `"`), `"`)
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var buf strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '\\' || i+1 == len(runes) {
			buf.WriteRune(c)
			continue
		}
		i++
		switch runes[i] {
		case 'n':
			buf.WriteRune('\n')
		case 't':
			buf.WriteRune('\t')
		case 'r':
			buf.WriteRune('\r')
		default:
			buf.WriteRune(runes[i])
		}
	}
	return buf.String()
}

// splitRegex separates a regex token into its pattern and flags.
// An escaped delimiter becomes a bare '/', any other escape is kept for the regex engine.
func splitRegex(s string) (pattern, flags string) {
	end := strings.LastIndex(s, "/")
	flags = s[end+1:]
	body := []rune(s[1:end])
	var buf strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			if body[i] != '/' {
				buf.WriteRune('\\')
			}
			buf.WriteRune(body[i])
			continue
		}
		buf.WriteRune(c)
	}
	return buf.String(), flags
}
