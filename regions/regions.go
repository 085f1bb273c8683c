// Package regions models the genomic region sets that metagene profiles are
// computed over. A RegionSet is validated and reduced (overlapping regions
// merged) at construction and is read-only afterwards.
package regions

import (
	"fmt"
	"sort"

	"github.com/biogo/store/interval"
)

// Strand is the orientation of a region or alignment fragment.
type Strand byte

const (
	// Plus is the forward strand.
	Plus Strand = '+'
	// Minus is the reverse strand.
	Minus Strand = '-'
	// Any means unstranded; as a filter it matches every strand.
	Any Strand = '*'
)

func (s Strand) String() string { return string(s) }

// Valid reports whether s is one of +, - or *.
func (s Strand) Valid() bool { return s == Plus || s == Minus || s == Any }

// Region is a half-open genomic interval [Start, End) on a named sequence.
type Region struct {
	Seq    string
	Start  int
	End    int
	Strand Strand
	Name   string
	Group  string
}

// Width returns the region length in base pairs.
func (r Region) Width() int { return r.End - r.Start }

func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d(%c)", r.Seq, r.Start, r.End, r.Strand)
}

// InvalidRegionError reports a region that fails construction-time
// validation.
type InvalidRegionError struct {
	Region Region
	Reason string
}

func (e InvalidRegionError) Error() string {
	return fmt.Sprintf("invalid region %v: %s", e.Region, e.Reason)
}

// EmptyRegionSetError is returned when a region set ends up with no regions,
// either at construction or after lenient sequence-name pruning.
type EmptyRegionSetError struct {
	Group string
}

func (e EmptyRegionSetError) Error() string {
	return fmt.Sprintf("region set %q contains no regions", e.Group)
}

// Span is a strand-agnostic interval of the merged union of a region set,
// used to drive index lookups when fetching alignments.
type Span struct {
	Seq   string
	Start int
	End   int
}

// RegionSet is an ordered, validated collection of regions sharing a group
// label. The merged union of its intervals is precomputed at construction.
type RegionSet struct {
	group   string
	regions []Region
	merged  []Span
}

// Opts controls RegionSet construction.
type Opts struct {
	// Padding widens every region by this many bases on each side, clipped
	// at coordinate zero. Applied once, at load time.
	Padding int
}

// NewRegionSet validates regs, applies padding, and computes the merged
// interval union. The input slice is copied; the set never aliases caller
// memory.
func NewRegionSet(group string, regs []Region, opts Opts) (*RegionSet, error) {
	if len(regs) == 0 {
		return nil, EmptyRegionSetError{Group: group}
	}
	rs := &RegionSet{group: group, regions: make([]Region, len(regs))}
	for i, r := range regs {
		if r.Seq == "" {
			return nil, InvalidRegionError{Region: r, Reason: "empty sequence name"}
		}
		if r.Start < 0 || r.End < 0 {
			return nil, InvalidRegionError{Region: r, Reason: "negative coordinate"}
		}
		if r.Start > r.End {
			return nil, InvalidRegionError{Region: r, Reason: "start after end"}
		}
		if r.Strand == 0 {
			r.Strand = Any
		}
		if !r.Strand.Valid() {
			return nil, InvalidRegionError{Region: r, Reason: "bad strand"}
		}
		if opts.Padding > 0 {
			r.Start -= opts.Padding
			if r.Start < 0 {
				r.Start = 0
			}
			r.End += opts.Padding
		}
		r.Group = group
		rs.regions[i] = r
	}
	sort.SliceStable(rs.regions, func(i, j int) bool {
		a, b := rs.regions[i], rs.regions[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	rs.merged = mergeSpans(rs.regions)
	return rs, nil
}

// Group returns the set's group label.
func (rs *RegionSet) Group() string { return rs.group }

// Len returns the number of regions.
func (rs *RegionSet) Len() int { return len(rs.regions) }

// Regions returns the sorted regions. Callers must not modify the slice.
func (rs *RegionSet) Regions() []Region { return rs.regions }

// Merged returns the strand-agnostic union of the set's intervals, sorted by
// sequence name then start.
func (rs *RegionSet) Merged() []Span { return rs.merged }

// SeqNames returns the distinct sequence names used by the set.
func (rs *RegionSet) SeqNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range rs.regions {
		if !seen[r.Seq] {
			seen[r.Seq] = true
			names = append(names, r.Seq)
		}
	}
	return names
}

// Prune returns a copy of the set restricted to regions whose sequence name
// is in keep. It returns EmptyRegionSetError if nothing survives.
func (rs *RegionSet) Prune(keep map[string]bool) (*RegionSet, error) {
	var kept []Region
	for _, r := range rs.regions {
		if keep[r.Seq] {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil, EmptyRegionSetError{Group: rs.group}
	}
	return NewRegionSet(rs.group, kept, Opts{})
}

// SplitBy partitions the set into sub-sets keyed by a metadata column. The
// values map is keyed by region name; regions with no entry fall into a
// sub-set labelled "<group>.NA". Sub-set group labels are "<group>.<value>".
func (rs *RegionSet) SplitBy(values map[string]string) ([]*RegionSet, error) {
	byValue := map[string][]Region{}
	var order []string
	for _, r := range rs.regions {
		v, ok := values[r.Name]
		if !ok {
			v = "NA"
		}
		if _, seen := byValue[v]; !seen {
			order = append(order, v)
		}
		byValue[v] = append(byValue[v], r)
	}
	sort.Strings(order)
	out := make([]*RegionSet, 0, len(order))
	for _, v := range order {
		sub, err := NewRegionSet(rs.group+"."+v, byValue[v], Opts{})
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// ivEntry adapts a span to the biogo interval tree interface.
type ivEntry struct {
	start, end int
	id         uintptr
}

func (e ivEntry) Overlap(b interval.IntRange) bool {
	return e.start < b.End && e.end > b.Start
}
func (e ivEntry) ID() uintptr              { return e.id }
func (e ivEntry) Range() interval.IntRange { return interval.IntRange{Start: e.start, End: e.end} }

// mergeSpans computes the per-sequence union of the given regions. Each
// sequence's intervals go through an interval tree, whose in-order traversal
// yields them sorted so adjacent overlaps can be coalesced in one pass.
func mergeSpans(regs []Region) []Span {
	bySeq := map[string]*interval.IntTree{}
	var seqs []string
	var id uintptr
	for _, r := range regs {
		t, ok := bySeq[r.Seq]
		if !ok {
			t = &interval.IntTree{}
			bySeq[r.Seq] = t
			seqs = append(seqs, r.Seq)
		}
		id++
		// fast insert; ranges adjusted once after the loop.
		_ = t.Insert(ivEntry{start: r.Start, end: r.End, id: id}, true)
	}
	sort.Strings(seqs)
	var out []Span
	for _, seq := range seqs {
		t := bySeq[seq]
		t.AdjustRanges()
		cur := Span{Seq: seq, Start: -1}
		t.Do(func(e interval.IntInterface) bool {
			r := e.Range()
			switch {
			case cur.Start < 0:
				cur.Start, cur.End = r.Start, r.End
			case r.Start <= cur.End:
				if r.End > cur.End {
					cur.End = r.End
				}
			default:
				out = append(out, cur)
				cur = Span{Seq: seq, Start: r.Start, End: r.End}
			}
			return false
		})
		if cur.Start >= 0 {
			out = append(out, cur)
		}
	}
	return out
}
