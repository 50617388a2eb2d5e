package iterator

// Tag sets the Source of every Line that passes through to source.
// A Tag is intended to name an input so output can be traced back to it.
func Tag(iter Iterator, source string) Iterator {
	return Func(func() (Line, error) {
		line, err := iter.Next()
		if err != nil {
			return Err(err)
		}
		line.Source = source
		return line, nil
	})
}
