package metrics

import (
	"fmt"
	"io"
)

// Scalar is one emitted summary value.
type Scalar struct {
	Tag   string
	Value float64
	Step  int64
}

type summary struct {
	tag   string
	value ValueFn
}

// Summaries is an explicit collection of scalar summaries. Nothing is
// collected automatically: values are read only when Emit is called.
type Summaries struct {
	list []summary
}

// AddScalar registers a scalar tagged tag.
func (s *Summaries) AddScalar(tag string, value ValueFn) {
	s.list = append(s.list, summary{tag: tag, value: value})
}

// Emit reads every summary, prints "<tag>: <value>" to w, and returns the scalars.
func (s *Summaries) Emit(w io.Writer, step int64) []Scalar {
	out := make([]Scalar, 0, len(s.list))
	for _, sm := range s.list {
		v := sm.value()
		if w != nil {
			fmt.Fprintf(w, "%s: %g\n", sm.tag, v)
		}
		out = append(out, Scalar{Tag: sm.tag, Value: v, Step: step})
	}
	return out
}

// Len returns the number of registered summaries.
func (s *Summaries) Len() int {
	return len(s.list)
}
