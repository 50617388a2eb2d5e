package entries

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrTransformArgs    = errors.New("invalid transform arguments")
)

// TransformFunc rewrites a single field value.
type TransformFunc func(val string) string

// ArgKind is the literal type a transform argument must have.
type ArgKind int

const (
	ArgString ArgKind = iota
	ArgNumber
)

func (k ArgKind) String() string {
	if k == ArgNumber {
		return "number"
	}
	return "string"
}

// Arg is a literal transform argument.
type Arg struct {
	Text     string
	IsNumber bool
}

// TransformOp describes a named transform operation that rules may apply with transform(field, op, args...).
type TransformOp struct {
	Name  string
	Args  []ArgKind
	Doc   string
	build func(args []Arg) (TransformFunc, error)
}

func (op TransformOp) Usage() string {
	var buf strings.Builder
	buf.WriteString(op.Name)
	for _, a := range op.Args {
		buf.WriteString(", ")
		buf.WriteString(a.String())
	}
	return buf.String()
}

var transforms = map[string]TransformOp{}

func registerTransform(op TransformOp) {
	transforms[op.Name] = op
}

// LookupTransform returns the named transform operation.
func LookupTransform(name string) (TransformOp, bool) {
	op, ok := transforms[name]
	return op, ok
}

// Transforms lists every transform operation, sorted by name.
func Transforms() []TransformOp {
	ops := make([]TransformOp, 0, len(transforms))
	for _, op := range transforms {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Name < ops[j].Name
	})
	return ops
}

// BuildTransform validates args against the named operation and returns a ready to use TransformFunc.
// Everything that can be checked or compiled ahead of time happens here, not per line.
func BuildTransform(name string, args []Arg) (TransformFunc, error) {
	op, ok := LookupTransform(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransform, name)
	}
	if len(args) != len(op.Args) {
		return nil, fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrTransformArgs, name, len(op.Args), len(args))
	}
	for i, kind := range op.Args {
		if args[i].IsNumber != (kind == ArgNumber) {
			return nil, fmt.Errorf("%w: %s argument %d must be a %s", ErrTransformArgs, name, i+1, kind)
		}
	}
	return op.build(args)
}

// Apply runs fn against field in e. Absent fields are left absent.
func (fn TransformFunc) Apply(e *Entry, field string) {
	val, ok := e.Get(field)
	if !ok {
		return
	}
	e.Set(field, fn(val))
}

func constant(fn TransformFunc) func([]Arg) (TransformFunc, error) {
	return func([]Arg) (TransformFunc, error) {
		return fn, nil
	}
}

func intArg(name string, a Arg) (int, error) {
	n, err := strconv.Atoi(a.Text)
	if err != nil {
		return 0, fmt.Errorf("%w: %s needs an integer, got %s", ErrTransformArgs, name, a.Text)
	}
	return n, nil
}

func init() {
	registerTransform(TransformOp{
		Name:  "upper",
		Doc:   "Converts the value to upper case.",
		build: constant(strings.ToUpper),
	})
	registerTransform(TransformOp{
		Name:  "lower",
		Doc:   "Converts the value to lower case.",
		build: constant(strings.ToLower),
	})
	registerTransform(TransformOp{
		Name:  "trim",
		Doc:   "Removes leading and trailing whitespace.",
		build: constant(strings.TrimSpace),
	})
	registerTransform(TransformOp{
		Name: "prefix",
		Args: []ArgKind{ArgString},
		Doc:  "Prepends the argument to the value.",
		build: func(args []Arg) (TransformFunc, error) {
			pre := args[0].Text
			return func(val string) string {
				return pre + val
			}, nil
		},
	})
	registerTransform(TransformOp{
		Name: "suffix",
		Args: []ArgKind{ArgString},
		Doc:  "Appends the argument to the value.",
		build: func(args []Arg) (TransformFunc, error) {
			suf := args[0].Text
			return func(val string) string {
				return val + suf
			}, nil
		},
	})
	registerTransform(TransformOp{
		Name: "replace",
		Args: []ArgKind{ArgString, ArgString},
		Doc:  "Replaces every match of the regular expression in the first argument with the second argument. $1 style references are expanded.",
		build: func(args []Arg) (TransformFunc, error) {
			re, err := regexp.Compile(args[0].Text)
			if err != nil {
				return nil, fmt.Errorf("%w: replace pattern: %v", ErrTransformArgs, err)
			}
			repl := args[1].Text
			return func(val string) string {
				return re.ReplaceAllString(val, repl)
			}, nil
		},
	})
	registerTransform(TransformOp{
		Name: "cut",
		Args: []ArgKind{ArgString, ArgNumber},
		Doc:  "Splits the value on the delimiter and keeps the part at the index. Negative indexes count from the end, starting at -1. An index out of range produces an empty value.",
		build: func(args []Arg) (TransformFunc, error) {
			delim := args[0].Text
			if delim == "" {
				return nil, fmt.Errorf("%w: cut: %v", ErrTransformArgs, ErrEmptyDelimiter)
			}
			idx, err := intArg("cut", args[1])
			if err != nil {
				return nil, err
			}
			return func(val string) string {
				parts := Split(val, delim)
				i := idx
				if i < 0 {
					i += len(parts)
				}
				if i < 0 || i >= len(parts) {
					return ""
				}
				return parts[i]
			}, nil
		},
	})
	registerTransform(TransformOp{
		Name: "truncate",
		Args: []ArgKind{ArgNumber},
		Doc:  "Keeps at most N characters of the value.",
		build: func(args []Arg) (TransformFunc, error) {
			n, err := intArg("truncate", args[0])
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: truncate length must not be negative", ErrTransformArgs)
			}
			return func(val string) string {
				runes := []rune(val)
				if len(runes) <= n {
					return val
				}
				return string(runes[:n])
			}, nil
		},
	})
}
