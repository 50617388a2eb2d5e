package iterator

import (
	"fmt"
	"regexp"
)

// Joiner will traverse an Iterator, returning lines that may be joined based on a set of startPatterns.
// A start pattern defines what a line must look like to be interpreted as the start of a log message.
// Subsequent lines that do not match any pattern are appended to the last start line, separated by a newline.
// If the Iterator starts with a line that doesn't match the startPatterns, it will be treated as a start anyway.
// This keeps multi-line messages like stack traces together as a single Line.
func Joiner(iter Iterator, startPatterns ...string) (Iterator, error) {
	j := &joinerState{
		iter: iter,
	}
	for _, p := range startPatterns {
		r, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid join pattern '%s': %w", p, err)
		}
		j.startMatchRegex = append(j.startMatchRegex, r)
	}
	if len(j.startMatchRegex) == 0 {
		return iter, nil
	}
	return Func(j.nextFunc), nil
}

type joinerState struct {
	startMatchRegex []*regexp.Regexp
	start           *Line
	iter            Iterator
}

func (j *joinerState) isStart(line Line) bool {
	for _, r := range j.startMatchRegex {
		if r.MatchString(line.Text) {
			return true
		}
	}
	return false
}

func (j *joinerState) finalize() Line {
	final := *j.start
	j.start = nil
	return final
}

func (j *joinerState) nextFunc() (Line, error) {
	for {
		line, err := j.iter.Next()
		switch {
		case err != nil:
			if j.start != nil {
				return j.finalize(), nil
			}
			return Err(err)
		case j.start == nil:
			j.start = &line
		case j.isStart(line):
			final := j.finalize()
			j.start = &line
			return final, nil
		default:
			j.start.Text += "\n" + line.Text
		}
	}
}
