package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []Span
		want []Span
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "single",
			in:   []Span{{540, 720}},
			want: []Span{{540, 720}},
		},
		{
			name: "disjoint stay disjoint",
			in:   []Span{{780, 1020}, {540, 720}},
			want: []Span{{540, 720}, {780, 1020}},
		},
		{
			name: "overlapping coalesce",
			in:   []Span{{540, 660}, {600, 720}},
			want: []Span{{540, 720}},
		},
		{
			name: "adjacent coalesce",
			in:   []Span{{540, 600}, {600, 660}},
			want: []Span{{540, 660}},
		},
		{
			name: "contained is absorbed",
			in:   []Span{{540, 720}, {560, 580}},
			want: []Span{{540, 720}},
		},
		{
			name: "zero length dropped",
			in:   []Span{{600, 600}, {540, 560}},
			want: []Span{{540, 560}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Merge(tc.in))
		})
	}
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name    string
		base    []Span
		blocked []Span
		want    []Span
	}{
		{
			name: "no blocked returns base",
			base: []Span{{540, 720}},
			want: []Span{{540, 720}},
		},
		{
			name:    "middle carve",
			base:    []Span{{540, 720}},
			blocked: []Span{{600, 660}},
			want:    []Span{{540, 600}, {660, 720}},
		},
		{
			name:    "exact cover removes entirely",
			base:    []Span{{540, 720}},
			blocked: []Span{{540, 720}},
			want:    nil,
		},
		{
			name:    "boundary touch removes nothing",
			base:    []Span{{540, 720}},
			blocked: []Span{{480, 540}, {720, 780}},
			want:    []Span{{540, 720}},
		},
		{
			name:    "overhang clips to base",
			base:    []Span{{540, 720}},
			blocked: []Span{{500, 560}, {700, 760}},
			want:    []Span{{560, 700}},
		},
		{
			name:    "blocked spanning two base intervals",
			base:    []Span{{540, 660}, {720, 840}},
			blocked: []Span{{600, 780}},
			want:    []Span{{540, 600}, {780, 840}},
		},
		{
			name:    "multiple carves in one base",
			base:    []Span{{480, 1020}},
			blocked: []Span{{540, 600}, {720, 780}, {900, 960}},
			want:    []Span{{480, 540}, {600, 720}, {780, 900}, {960, 1020}},
		},
		{
			name:    "empty base",
			base:    nil,
			blocked: []Span{{540, 600}},
			want:    nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Subtract(tc.base, tc.blocked))
		})
	}
}

// Every minute of the result must be inside base and outside blocked, and
// every base minute not covered by blocked must appear in the result.
func TestSubtractSoundAndComplete(t *testing.T) {
	base := Merge([]Span{{0, 120}, {200, 300}, {300, 420}, {500, 510}})
	blocked := Merge([]Span{{30, 60}, {110, 210}, {250, 251}, {410, 600}})
	got := Subtract(base, blocked)

	for m := 0; m < MinutesPerDay; m++ {
		inBase := Covered(base, m)
		inBlocked := Covered(blocked, m)
		inResult := Covered(got, m)

		if inResult {
			require.True(t, inBase, "minute %d in result but not in base", m)
			require.False(t, inBlocked, "minute %d in result but blocked", m)
		} else if inBase && !inBlocked {
			require.True(t, inResult, "minute %d free in base but missing from result", m)
		}
	}
}

func TestSpanOverlaps(t *testing.T) {
	a := Span{600, 660}

	assert.True(t, a.Overlaps(Span{630, 690}))
	assert.True(t, a.Overlaps(Span{540, 720}))
	assert.True(t, a.Overlaps(Span{659, 660}))
	assert.False(t, a.Overlaps(Span{660, 720}), "touching end is not overlap")
	assert.False(t, a.Overlaps(Span{540, 600}), "touching start is not overlap")
}

func TestSpanValid(t *testing.T) {
	assert.True(t, Span{0, 1440}.Valid())
	assert.True(t, Span{540, 541}.Valid())
	assert.False(t, Span{540, 540}.Valid())
	assert.False(t, Span{600, 540}.Valid())
	assert.False(t, Span{-10, 60}.Valid())
	assert.False(t, Span{1400, 1441}.Valid())
}
