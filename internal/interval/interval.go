// Package interval implements minute-of-day interval arithmetic used by the
// availability engine. All spans are half-open [Start, End): two spans that
// only touch at a boundary do not overlap.
package interval

import "sort"

// MinutesPerDay is the exclusive upper bound for any span end.
const MinutesPerDay = 1440

// Span is a half-open range of minutes since midnight.
type Span struct {
	Start int `json:"start_min"`
	End   int `json:"end_min"`
}

// Valid reports whether the span is a well-formed minute-of-day range.
func (s Span) Valid() bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= MinutesPerDay
}

// Overlaps reports whether s and other share at least one minute.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Contains reports whether minute m falls inside the span.
func (s Span) Contains(m int) bool {
	return m >= s.Start && m < s.End
}

// Merge sorts spans by start and coalesces overlapping or adjacent ones into
// a minimal sorted, non-overlapping list. Zero-length spans are dropped.
func Merge(spans []Span) []Span {
	in := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < s.End {
			in = append(in, s)
		}
	}
	if len(in) == 0 {
		return nil
	}

	sort.Slice(in, func(i, j int) bool {
		if in[i].Start != in[j].Start {
			return in[i].Start < in[j].Start
		}
		return in[i].End < in[j].End
	})

	out := []Span{in[0]}
	for _, s := range in[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Subtract removes every portion of base covered by blocked, returning the
// remaining sub-spans in order. Both inputs must already be merged (sorted,
// non-overlapping); callers hold that invariant by building them via Merge.
// A blocked span that merely touches a base boundary removes nothing.
func Subtract(base, blocked []Span) []Span {
	var out []Span
	bi := 0

	for _, b := range base {
		cur := b.Start

		// Skip blocked spans that end at or before the unconsumed region.
		for bi < len(blocked) && blocked[bi].End <= cur {
			bi++
		}

		j := bi
		for j < len(blocked) && blocked[j].Start < b.End {
			if blocked[j].Start > cur {
				out = append(out, Span{Start: cur, End: blocked[j].Start})
			}
			if blocked[j].End > cur {
				cur = blocked[j].End
			}
			j++
		}
		if cur < b.End {
			out = append(out, Span{Start: cur, End: b.End})
		}
	}
	return out
}

// Covered reports whether minute m lies inside any span of the merged set.
func Covered(spans []Span, m int) bool {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End > m })
	return i < len(spans) && spans[i].Contains(m)
}
