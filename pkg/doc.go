// Package pkg holds the building blocks of routelog, from reading lines to routing output events.
//   - The iterator package reads, tags, joins, and merges streams of lines.
//   - The entries package holds the fields extracted from a single line.
//   - The dsl package lexes and parses the rule language, and compile turns rules into predicates and actions.
//   - The engine package evaluates each line against the active ruleset.
//   - The router package delivers output events to destinations with per-destination queues and retries.
//   - The config package loads the YAML configuration.
package pkg
