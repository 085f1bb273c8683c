// Package coverage computes run-length-encoded per-position coverage from
// alignment fragments. Tracks store only covered runs, so whole-genome
// region sets stay cheap regardless of interval width.
package coverage

import (
	"sort"
)

// Run is a half-open interval [Start, End) with a constant coverage value.
type Run struct {
	Start int
	End   int
	Value float64
}

// Track is a sparse run-length coverage map: per sequence, sorted and
// non-overlapping runs with strictly positive values. Zero coverage is
// represented by absence.
type Track struct {
	runs map[string][]Run
	seqs []string
}

// NewTrack returns an empty track.
func NewTrack() *Track {
	return &Track{runs: map[string][]Run{}}
}

// Seqs returns the sequence names carrying coverage, sorted.
func (t *Track) Seqs() []string { return t.seqs }

// Runs returns the runs for seq. Callers must not modify the slice.
func (t *Track) Runs(seq string) []Run { return t.runs[seq] }

// Empty reports whether the track carries no coverage at all.
func (t *Track) Empty() bool { return len(t.seqs) == 0 }

func (t *Track) setRuns(seq string, runs []Run) {
	if len(runs) == 0 {
		return
	}
	if _, ok := t.runs[seq]; !ok {
		t.seqs = append(t.seqs, seq)
		sort.Strings(t.seqs)
	}
	t.runs[seq] = runs
}

// Scale multiplies every run value in place by w. The run structure is
// unchanged, so scaling commutes with accumulation.
func (t *Track) Scale(w float64) {
	for _, runs := range t.runs {
		for i := range runs {
			runs[i].Value *= w
		}
	}
}

// Sum returns the total covered base-weight: sum of value times run width
// over all runs.
func (t *Track) Sum() float64 {
	var total float64
	for _, runs := range t.runs {
		for _, r := range runs {
			total += r.Value * float64(r.End-r.Start)
		}
	}
	return total
}

// WeightedSum returns the coverage mass on seq within [start, end): sum of
// run value times base-pair overlap with the window.
func (t *Track) WeightedSum(seq string, start, end int) float64 {
	runs := t.runs[seq]
	// First run that ends after the window start.
	i := sort.Search(len(runs), func(i int) bool { return runs[i].End > start })
	var total float64
	for ; i < len(runs) && runs[i].Start < end; i++ {
		lo, hi := runs[i].Start, runs[i].End
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		total += runs[i].Value * float64(hi-lo)
	}
	return total
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := NewTrack()
	for seq, runs := range t.runs {
		c.setRuns(seq, append([]Run(nil), runs...))
	}
	return c
}

// Add returns the pointwise sum of a and b: the union of their breakpoints
// with overlapping run values summed. Neither input is modified.
func Add(a, b *Track) *Track {
	return combine(a, b, func(x, y float64) float64 { return x + y })
}

// SubtractScaled returns max(0, a - k*b) pointwise. Used for control
// subtraction: coverage cannot go negative.
func SubtractScaled(a, b *Track, k float64) *Track {
	return combine(a, b, func(x, y float64) float64 {
		v := x - k*y
		if v < 0 {
			return 0
		}
		return v
	})
}

// combine merges two tracks pointwise with f, where absent coverage is zero.
// Segments whose combined value is zero are dropped; adjacent equal-valued
// segments are coalesced.
func combine(a, b *Track, f func(x, y float64) float64) *Track {
	out := NewTrack()
	seen := map[string]bool{}
	for _, seqs := range [][]string{a.seqs, b.seqs} {
		for _, seq := range seqs {
			if seen[seq] {
				continue
			}
			seen[seq] = true
			out.setRuns(seq, combineRuns(a.runs[seq], b.runs[seq], f))
		}
	}
	return out
}

func combineRuns(ra, rb []Run, f func(x, y float64) float64) []Run {
	var out []Run
	emit := func(start, end int, v float64) {
		if start >= end || v == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].End == start && out[n-1].Value == v {
			out[n-1].End = end
			return
		}
		out = append(out, Run{Start: start, End: end, Value: v})
	}

	i, j := 0, 0
	pos := minStart(ra, rb)
	for i < len(ra) || j < len(rb) {
		va, vb := 0.0, 0.0
		// next breakpoint after pos across both lists
		next := int(^uint(0) >> 1)
		if i < len(ra) {
			r := ra[i]
			switch {
			case pos < r.Start:
				next = min(next, r.Start)
			case pos < r.End:
				va = r.Value
				next = min(next, r.End)
			default:
				i++
				continue
			}
		}
		if j < len(rb) {
			r := rb[j]
			switch {
			case pos < r.Start:
				next = min(next, r.Start)
			case pos < r.End:
				vb = r.Value
				next = min(next, r.End)
			default:
				j++
				continue
			}
		}
		emit(pos, next, f(va, vb))
		pos = next
	}
	return out
}

func minStart(ra, rb []Run) int {
	switch {
	case len(ra) == 0 && len(rb) == 0:
		return 0
	case len(ra) == 0:
		return rb[0].Start
	case len(rb) == 0:
		return ra[0].Start
	case ra[0].Start < rb[0].Start:
		return ra[0].Start
	default:
		return rb[0].Start
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Builder accumulates fragment footprints and produces an RLE track via an
// endpoint sweep.
type Builder struct {
	events map[string][]event
}

type event struct {
	pos   int
	delta float64
}

// NewBuilder returns an empty accumulator.
func NewBuilder() *Builder {
	return &Builder{events: map[string][]event{}}
}

// AddFootprint adds one unit of coverage over [start, end) on seq.
func (b *Builder) AddFootprint(seq string, start, end int) {
	if start >= end {
		return
	}
	if start < 0 {
		start = 0
	}
	b.events[seq] = append(b.events[seq], event{pos: start, delta: 1}, event{pos: end, delta: -1})
}

// Build materializes the accumulated footprints as a track. The builder may
// be reused afterwards; building does not clear it.
func (b *Builder) Build() *Track {
	t := NewTrack()
	for seq, evs := range b.events {
		sort.Slice(evs, func(i, j int) bool { return evs[i].pos < evs[j].pos })
		var runs []Run
		depth := 0.0
		last := 0
		for k := 0; k < len(evs); {
			pos := evs[k].pos
			if depth > 0 && pos > last {
				if n := len(runs); n > 0 && runs[n-1].End == last && runs[n-1].Value == depth {
					runs[n-1].End = pos
				} else {
					runs = append(runs, Run{Start: last, End: pos, Value: depth})
				}
			}
			for k < len(evs) && evs[k].pos == pos {
				depth += evs[k].delta
				k++
			}
			last = pos
		}
		t.setRuns(seq, runs)
	}
	return t
}
