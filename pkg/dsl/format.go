package dsl

import (
	"fmt"
	"strings"
)

const (
	precOr = iota + 1
	precAnd
	precNot
	precPrimary
)

// Format renders rules back into DSL text.
// Parsing the output yields rules equivalent to the input: same order, conditions, and actions.
func Format(decls []*RuleDecl) string {
	var buf strings.Builder
	for i, d := range decls {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(FormatRule(d))
	}
	return buf.String()
}

func FormatRule(d *RuleDecl) string {
	var buf strings.Builder
	buf.WriteString("rule ")
	if d.Name != "" {
		buf.WriteString(d.Name + " ")
	}
	buf.WriteString("{\n\twhen ")
	buf.WriteString(FormatExpr(d.When))
	buf.WriteString("\n\tthen")
	for _, a := range d.Actions {
		buf.WriteString(" ")
		buf.WriteString(FormatAction(a))
	}
	buf.WriteString("\n}\n")
	return buf.String()
}

func FormatExpr(e Expr) string {
	return formatExpr(e, precOr)
}

func precedence(e Expr) int {
	switch e.(type) {
	case *BoolOr:
		return precOr
	case *BoolAnd:
		return precAnd
	case *BoolNot:
		return precNot
	default:
		return precPrimary
	}
}

// formatExpr parenthesizes e when its precedence is lower than min.
func formatExpr(e Expr, min int) string {
	var s string
	switch e := e.(type) {
	case *BoolOr:
		s = formatExpr(e.Left, precOr) + " || " + formatExpr(e.Right, precOr+1)
	case *BoolAnd:
		s = formatExpr(e.Left, precAnd) + " && " + formatExpr(e.Right, precAnd+1)
	case *BoolNot:
		s = "!" + formatExpr(e.Inner, precNot)
	case *Literal:
		s = fmt.Sprintf("%t", e.Value)
	case *HasField:
		s = "has(" + e.Field + ")"
	case *FieldMatch:
		if e.IsPattern {
			s = fmt.Sprintf("%s %s %s", e.Field, e.Op, quoteRegex(e.Value, e.Flags))
		} else {
			s = fmt.Sprintf("%s %s %s", e.Field, e.Op, quote(e.Value))
		}
	default:
		s = fmt.Sprintf("<%T>", e)
	}
	if precedence(e) < min {
		return "(" + s + ")"
	}
	return s
}

func FormatAction(a Action) string {
	switch a := a.(type) {
	case *Route:
		return "route(" + a.Destination + ")"
	case *SetField:
		return "set(" + a.Field + ", " + formatValue(a.Value) + ")"
	case *Transform:
		var buf strings.Builder
		buf.WriteString("transform(" + a.Field + ", " + a.Op)
		for _, v := range a.Args {
			buf.WriteString(", " + formatValue(v))
		}
		buf.WriteString(")")
		return buf.String()
	case *Stop:
		return "stop"
	case *Continue:
		return "continue"
	default:
		return fmt.Sprintf("<%T>", a)
	}
}

func formatValue(v Value) string {
	if v.IsNumber {
		return v.Text
	}
	return quote(v.Text)
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

func quoteRegex(pattern, flags string) string {
	var buf strings.Builder
	buf.WriteString("/")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			buf.WriteRune(c)
			i++
			buf.WriteRune(runes[i])
		case c == '/':
			buf.WriteString(`\/`)
		default:
			buf.WriteRune(c)
		}
	}
	buf.WriteString("/")
	buf.WriteString(flags)
	return buf.String()
}
