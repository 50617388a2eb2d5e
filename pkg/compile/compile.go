package compile

import (
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/dsl"
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/saylorsolutions/routelog/pkg/event"
	"regexp"
	"sort"
)

var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrUnknownField       = errors.New("unknown field")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrBadPattern         = errors.New("invalid pattern")
	ErrUnreachable        = errors.New("unreachable")
	ErrUnknownTransform   = errors.New("unknown transform")
	ErrDuplicateRule      = errors.New("duplicate rule name")
)

// CompileError reports a semantically invalid rule.
// The cause is one of the Err* sentinels in this package, and can be checked with errors.Is.
type CompileError struct {
	Rule   string
	Reason string
	Line   int
	Column int
	err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error in rule '%s' at line %d column %d: %s: %s", e.Rule, e.Line, e.Column, e.err, e.Reason)
}

func (e *CompileError) Unwrap() error {
	return e.err
}

// Table is the set of destination names that route actions may reference.
type Table interface {
	Has(name string) bool
}

// Names is a Table backed by a fixed list of names.
type Names []string

func (n Names) Has(name string) bool {
	for _, s := range n {
		if s == name {
			return true
		}
	}
	return false
}

type Options struct {
	// Destinations must be fully populated before compiling.
	Destinations Table
	// Fields are the well-known fields supplied by the extractor. The line field is always included.
	Fields []string
	// Log receives compile warnings. It may be nil.
	Log hclog.Logger
}

// Predicate reports whether a rule's condition holds for the line context.
type Predicate func(e *entries.Entry) bool

// Emitter receives output events. Returning false tells the evaluator to stop producing events for the line.
type Emitter func(out event.Output) bool

// Control tells the evaluator whether to keep going after an action.
type Control int

const (
	Proceed Control = iota
	Halt
)

// Action is a compiled rule action.
type Action struct {
	Kind dsl.AstType
	// Destination is set for route actions.
	Destination string
	// Field is set for set and transform actions.
	Field string
	Exec  func(e *entries.Entry, emit Emitter) Control
}

// Rule is an executable rule. Rules are immutable once compiled and safe to share between goroutines.
type Rule struct {
	// Ordinal is the 0-based declaration index, which is also the evaluation order.
	Ordinal   int
	Name      string
	Line      int
	Predicate Predicate
	Actions   []Action
}

// Label names the rule in messages, using "#ordinal" for anonymous rules.
func (r *Rule) Label() string {
	return label(r.Name, r.Ordinal)
}

func label(name string, ordinal int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("#%d", ordinal)
}

// Ruleset is a complete, ordered, compiled set of rules.
// It is never modified after Compile returns it, so it may be swapped in and read without locking.
type Ruleset struct {
	Rules        []*Rule
	fields       []string
	destinations []string
	warnings     []*CompileError
}

func (r *Ruleset) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rules)
}

// Fields lists every field name that rules may reference, sorted.
func (r *Ruleset) Fields() []string {
	return append([]string(nil), r.fields...)
}

// Warnings lists problems that didn't reject the ruleset, like actions that can never run.
func (r *Ruleset) Warnings() []*CompileError {
	return append([]*CompileError(nil), r.warnings...)
}

// Destinations lists every destination referenced by a route action, sorted.
func (r *Ruleset) Destinations() []string {
	return append([]string(nil), r.destinations...)
}

type compiler struct {
	opts     Options
	known    map[string]bool
	routes   map[string]bool
	label    string
	warnings []*CompileError
}

// Compile lowers parsed rules into a Ruleset.
// Any semantic error rejects the whole ruleset.
func Compile(decls []*dsl.RuleDecl, opts Options) (*Ruleset, error) {
	if opts.Destinations == nil {
		opts.Destinations = Names(nil)
	}
	if opts.Log == nil {
		opts.Log = hclog.NewNullLogger()
	}
	c := &compiler{
		opts:   opts,
		known:  map[string]bool{entries.LineField: true},
		routes: map[string]bool{},
	}
	for _, f := range opts.Fields {
		c.known[f] = true
	}

	rs := new(Ruleset)
	names := map[string]bool{}
	for i, decl := range decls {
		c.label = label(decl.Name, i)
		if decl.Name != "" {
			if names[decl.Name] {
				return nil, c.fail(decl, ErrDuplicateRule, "rule name '%s' is already used", decl.Name)
			}
			names[decl.Name] = true
		}
		rule, err := c.compileRule(decl, i)
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	rs.fields = sortedKeys(c.known)
	rs.destinations = sortedKeys(c.routes)
	rs.warnings = c.warnings
	return rs, nil
}

// CompileString parses and compiles a ruleset.
func CompileString(text string, opts Options) (*Ruleset, error) {
	decls, err := dsl.ParseString(text)
	if err != nil {
		return nil, err
	}
	return Compile(decls, opts)
}

// CompileFile parses and compiles the ruleset in the named file.
func CompileFile(file string, opts Options) (*Ruleset, error) {
	decls, err := dsl.ParseFile(file)
	if err != nil {
		return nil, err
	}
	return Compile(decls, opts)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *compiler) fail(node dsl.AstNode, cause error, format string, args ...any) *CompileError {
	return &CompileError{
		Rule:   c.label,
		Reason: fmt.Sprintf(format, args...),
		Line:   node.Line(),
		Column: node.Column(),
		err:    cause,
	}
}

func (c *compiler) warn(w *CompileError) {
	c.opts.Log.Warn("Rule compiled with a warning", "rule", w.Rule, "line", w.Line, "column", w.Column, "warning", w.Reason)
	c.warnings = append(c.warnings, w)
}

func (c *compiler) compileRule(decl *dsl.RuleDecl, ordinal int) (*Rule, error) {
	pred, folded, err := c.compileExpr(decl.When)
	if err != nil {
		return nil, err
	}
	if folded != nil && !*folded {
		return nil, c.fail(decl.When, ErrUnreachable, "condition can never be true")
	}

	rule := &Rule{
		Ordinal:   ordinal,
		Name:      decl.Name,
		Line:      decl.Line(),
		Predicate: pred,
	}
	for i, a := range decl.Actions {
		if i > 0 {
			if _, ok := decl.Actions[i-1].(*dsl.Stop); ok {
				c.warn(c.fail(a, ErrUnreachable, "actions after stop never run"))
			}
		}
		action, err := c.compileAction(a)
		if err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, action)
	}
	return rule, nil
}

func (c *compiler) checkField(node dsl.AstNode, field string) error {
	if !c.known[field] {
		return c.fail(node, ErrUnknownField, "field '%s' is not well-known and is not set by an earlier action", field)
	}
	return nil
}

func constant(val bool) (Predicate, *bool, error) {
	return func(*entries.Entry) bool {
		return val
	}, &val, nil
}

// compileExpr returns the predicate for e, and its constant value if the expression folds to one.
func (c *compiler) compileExpr(e dsl.Expr) (Predicate, *bool, error) {
	switch e := e.(type) {
	case *dsl.Literal:
		return constant(e.Value)
	case *dsl.HasField:
		if err := c.checkField(e, e.Field); err != nil {
			return nil, nil, err
		}
		field := e.Field
		return func(entry *entries.Entry) bool {
			return entry.Has(field)
		}, nil, nil
	case *dsl.FieldMatch:
		pred, err := c.compileMatch(e)
		return pred, nil, err
	case *dsl.BoolNot:
		inner, folded, err := c.compileExpr(e.Inner)
		if err != nil {
			return nil, nil, err
		}
		if folded != nil {
			return constant(!*folded)
		}
		return func(entry *entries.Entry) bool {
			return !inner(entry)
		}, nil, nil
	case *dsl.BoolAnd:
		left, lf, err := c.compileExpr(e.Left)
		if err != nil {
			return nil, nil, err
		}
		right, rf, err := c.compileExpr(e.Right)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case lf != nil && !*lf, rf != nil && !*rf:
			return constant(false)
		case lf != nil && rf != nil:
			return constant(true)
		case lf != nil:
			return right, nil, nil
		case rf != nil:
			return left, nil, nil
		}
		return func(entry *entries.Entry) bool {
			return left(entry) && right(entry)
		}, nil, nil
	case *dsl.BoolOr:
		left, lf, err := c.compileExpr(e.Left)
		if err != nil {
			return nil, nil, err
		}
		right, rf, err := c.compileExpr(e.Right)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case lf != nil && *lf, rf != nil && *rf:
			return constant(true)
		case lf != nil && rf != nil:
			return constant(false)
		case lf != nil:
			return right, nil, nil
		case rf != nil:
			return left, nil, nil
		}
		return func(entry *entries.Entry) bool {
			return left(entry) || right(entry)
		}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported expression type %T", e)
	}
}

func (c *compiler) compileMatch(m *dsl.FieldMatch) (Predicate, error) {
	if err := c.checkField(m, m.Field); err != nil {
		return nil, err
	}
	field := m.Field
	switch m.Op {
	case dsl.OpEqual, dsl.OpNotEqual:
		if m.IsPattern {
			return nil, c.fail(m, ErrTypeMismatch, "operator %s compares against a string, not a pattern; use ~= to match a pattern", m.Op)
		}
		want := m.Value
		if m.Op == dsl.OpEqual {
			return func(e *entries.Entry) bool {
				v, ok := e.Get(field)
				return ok && v == want
			}, nil
		}
		return func(e *entries.Entry) bool {
			v, ok := e.Get(field)
			return !ok || v != want
		}, nil
	case dsl.OpMatch:
		if !m.IsPattern {
			return nil, c.fail(m, ErrTypeMismatch, "operator ~= requires a pattern like /%s/, not a string", m.Value)
		}
		re, err := CompilePattern(m.Value, m.Flags)
		if err != nil {
			return nil, c.fail(m, ErrBadPattern, "%v", err)
		}
		return func(e *entries.Entry) bool {
			v, ok := e.Get(field)
			return ok && re.MatchString(v)
		}, nil
	default:
		return nil, c.fail(m, ErrTypeMismatch, "unsupported operator %s", m.Op)
	}
}

// CompilePattern compiles a regex literal's pattern with its flags applied.
func CompilePattern(pattern, flags string) (*regexp.Regexp, error) {
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func (c *compiler) compileAction(a dsl.Action) (Action, error) {
	switch a := a.(type) {
	case *dsl.Route:
		if !c.opts.Destinations.Has(a.Destination) {
			return Action{}, c.fail(a, ErrUnknownDestination, "destination '%s' is not configured", a.Destination)
		}
		c.routes[a.Destination] = true
		dest := a.Destination
		return Action{
			Kind:        dsl.ROUTE,
			Destination: dest,
			Exec: func(e *entries.Entry, emit Emitter) Control {
				out := event.Output{
					Destination: dest,
					Payload:     e.Payload(),
					Fields:      e.Fields(),
					Line:        e.Num,
					Source:      e.Source,
				}
				if !emit(out) {
					return Halt
				}
				return Proceed
			},
		}, nil
	case *dsl.SetField:
		c.known[a.Field] = true
		field, val := a.Field, a.Value.Text
		return Action{
			Kind:  dsl.SET,
			Field: field,
			Exec: func(e *entries.Entry, _ Emitter) Control {
				e.Set(field, val)
				return Proceed
			},
		}, nil
	case *dsl.Transform:
		if err := c.checkField(a, a.Field); err != nil {
			return Action{}, err
		}
		args := make([]entries.Arg, len(a.Args))
		for i, v := range a.Args {
			args[i] = entries.Arg{Text: v.Text, IsNumber: v.IsNumber}
		}
		fn, err := entries.BuildTransform(a.Op, args)
		switch {
		case errors.Is(err, entries.ErrUnknownTransform):
			return Action{}, c.fail(a, ErrUnknownTransform, "%v", err)
		case err != nil:
			return Action{}, c.fail(a, ErrTypeMismatch, "%v", err)
		}
		field := a.Field
		return Action{
			Kind:  dsl.TRANSFORM,
			Field: field,
			Exec: func(e *entries.Entry, _ Emitter) Control {
				fn.Apply(e, field)
				return Proceed
			},
		}, nil
	case *dsl.Stop:
		return Action{
			Kind: dsl.STOP,
			Exec: func(*entries.Entry, Emitter) Control {
				return Halt
			},
		}, nil
	case *dsl.Continue:
		return Action{
			Kind: dsl.CONTINUE,
			Exec: func(*entries.Entry, Emitter) Control {
				return Proceed
			},
		}, nil
	default:
		return Action{}, fmt.Errorf("unsupported action type %T", a)
	}
}
