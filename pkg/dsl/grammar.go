package dsl

const GrammarDescription = `[DSL Concepts]
A ruleset is an ordered list of rules. Every input line is checked against each rule in the order the rules are written.
When a rule's condition holds, its actions run in the order they are written.
Rule order is the only priority mechanism: rules are never reordered.

Each line starts out with the well-known fields produced by the configured extractor, plus the "line" field holding the raw text.
Fields set by a rule are visible to later rules for the same line only.
A field that was never extracted or set is absent. Absent fields never equal a string and never match a pattern,
so FIELD != "STRING" holds for an absent field. Use has(FIELD) to test for presence.

Every field named in a rule must be well-known, or set by an earlier action.

Comments start with '#' and run to the end of the line.


[DSL Syntax]
A rule has an optional name, a condition, and one or more actions.
  rule [NAME] { when CONDITION then ACTION [ACTION...] }

Conditions compare fields to string literals or regex literals, and combine with !, &&, and || (tightest first).
Parentheses override precedence.
  FIELD == "STRING"
  FIELD != "STRING"
  FIELD ~= /REGEX/[FLAGS]        (flags: i, m, s)
  has(FIELD)
  true | false

Route sends the current value of the "line" field, along with all fields, to a configured destination.
  route(DESTINATION)

Set assigns a string or number to a field.
  set(FIELD, VALUE)

Transform rewrites a field in place. A transform of an absent field does nothing.
  transform(FIELD, OPERATION [, ARG...])
  Operations: upper, lower, trim, prefix(STRING), suffix(STRING), replace(REGEX_STRING, STRING), cut(DELIM, INDEX), truncate(N)

Stop ends evaluation for the current line. Continue does nothing, and exists for readability.
  stop
  continue

Example:
  # Anything at ERROR goes to the pager, and nowhere else.
  rule errors {
    when severity == "ERROR" || message ~= /panic|fatal/i
    then set(tag, "page") route(alerts) stop
  }
  rule everything { when true then route(archive) }
`
