package dsl

// AstType identifies the variant of an AstNode.
type AstType int

const (
	RULE AstType = iota
	FIELD_MATCH
	AND
	OR
	NOT
	LITERAL
	HAS
	ROUTE
	SET
	TRANSFORM
	STOP
	CONTINUE
)

// AstNode represents a node of an AST graph.
type AstNode interface {
	Line() int
	Column() int
	Type() AstType
}

type ast struct {
	AstLine   int     `json:"line"`
	AstColumn int     `json:"column"`
	AstType   AstType `json:"type"`
}

func (a *ast) Line() int {
	return a.AstLine
}
func (a *ast) Column() int {
	return a.AstColumn
}
func (a *ast) Type() AstType {
	return a.AstType
}

func (a *ast) setVals(t Token, typ AstType) {
	a.AstLine = t.Line
	a.AstColumn = t.Column
	a.AstType = typ
}

// RuleDecl is a single rule: a condition and the actions to run when it holds.
type RuleDecl struct {
	ast
	Name    string   `json:"name,omitempty"`
	When    Expr     `json:"when"`
	Actions []Action `json:"actions"`
}

// Expr is a condition tree node.
type Expr interface {
	AstNode
	expr()
}

// MatchOp is the operator of a FieldMatch.
type MatchOp int

const (
	OpEqual MatchOp = iota
	OpNotEqual
	OpMatch
)

func (o MatchOp) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpMatch:
		return "~="
	default:
		return "?"
	}
}

// FieldMatch compares a field against a string literal or a regex literal.
// Value holds the decoded string, or the regex pattern when IsPattern is set.
type FieldMatch struct {
	ast
	Field     string  `json:"field"`
	Op        MatchOp `json:"op"`
	Value     string  `json:"value"`
	IsPattern bool    `json:"isPattern"`
	Flags     string  `json:"flags,omitempty"`
}

type BoolAnd struct {
	ast
	Left  Expr `json:"left"`
	Right Expr `json:"right"`
}

type BoolOr struct {
	ast
	Left  Expr `json:"left"`
	Right Expr `json:"right"`
}

type BoolNot struct {
	ast
	Inner Expr `json:"inner"`
}

type Literal struct {
	ast
	Value bool `json:"value"`
}

// HasField holds when the field is present in the line context.
type HasField struct {
	ast
	Field string `json:"field"`
}

func (*FieldMatch) expr() {}
func (*BoolAnd) expr()    {}
func (*BoolOr) expr()     {}
func (*BoolNot) expr()    {}
func (*Literal) expr()    {}
func (*HasField) expr()   {}

// Action is a step run by a matching rule.
type Action interface {
	AstNode
	action()
}

// Value is a literal argument to set or transform.
type Value struct {
	Text     string `json:"text"`
	IsNumber bool   `json:"isNumber,omitempty"`
}

type Route struct {
	ast
	Destination string `json:"destination"`
}

type SetField struct {
	ast
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Transform struct {
	ast
	Field string  `json:"field"`
	Op    string  `json:"op"`
	Args  []Value `json:"args,omitempty"`
}

type Stop struct {
	ast
}

type Continue struct {
	ast
}

func (*Route) action()     {}
func (*SetField) action()  {}
func (*Transform) action() {}
func (*Stop) action()      {}
func (*Continue) action()  {}
