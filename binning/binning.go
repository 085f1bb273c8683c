// Package binning reduces coverage over each region to a fixed-length
// vector of per-bin means, producing the matrix that confidence estimation
// resamples from.
package binning

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ericfournier2/metagene2/coverage"
	"github.com/ericfournier2/metagene2/regions"
)

// RegionTooSmallError reports a region narrower than the requested bin
// count.
type RegionTooSmallError struct {
	Region   regions.Region
	BinCount int
}

func (e RegionTooSmallError) Error() string {
	return fmt.Sprintf("region %v is %d bp wide, too small for %d bins",
		e.Region, e.Region.Width(), e.BinCount)
}

// BinRegion divides the region into binCount contiguous sub-intervals of
// equal width (±1; the excess goes to the first bins) and returns each
// bin's coverage-weighted mean. Bin order follows the region's strand: for
// minus-strand regions bin 0 sits at the region's 3' end in genome
// coordinates, keeping upstream-to-downstream semantics.
func BinRegion(tr *coverage.Track, r regions.Region, binCount int) ([]float64, error) {
	if binCount <= 0 {
		return nil, errors.Errorf("bin count must be positive, got %d", binCount)
	}
	if r.Width() < binCount {
		return nil, RegionTooSmallError{Region: r, BinCount: binCount}
	}
	base := r.Width() / binCount
	rem := r.Width() % binCount

	out := make([]float64, binCount)
	cur := r.Start
	if r.Strand == regions.Minus {
		cur = r.End
	}
	for i := 0; i < binCount; i++ {
		w := base
		if i < rem {
			w++
		}
		var lo, hi int
		if r.Strand == regions.Minus {
			lo, hi = cur-w, cur
			cur = lo
		} else {
			lo, hi = cur, cur+w
			cur = hi
		}
		if tr != nil {
			out[i] = tr.WeightedSum(r.Seq, lo, hi) / float64(w)
		}
	}
	return out, nil
}

// Row is one region's binned values.
type Row struct {
	Region regions.Region
	Values []float64
}

// Matrix holds the binned values of one (region group, design group) pair.
// It is rebuilt from scratch whenever the bin count, region grouping, or
// upstream coverage changes.
type Matrix struct {
	RegionGroup string
	DesignGroup string
	BinCount    int
	Rows        []Row
}

// Filter decides per region whether it enters the matrix. A nil Filter
// keeps everything.
type Filter func(regions.Region) bool

// Build bins every region of rs against the design group's coverage
// profile. The track is chosen per region: the unstranded bucket when
// present, otherwise the bucket matching the region's strand; unstranded
// regions against a strand-specific profile see the sum of both strands.
// A region with no matching bucket contributes zeros.
func Build(prof coverage.Profile, rs *regions.RegionSet, designGroup string, binCount int, filter Filter) (*Matrix, error) {
	m := &Matrix{
		RegionGroup: rs.Group(),
		DesignGroup: designGroup,
		BinCount:    binCount,
	}
	unstranded, haveAny := prof[regions.Any]
	if !haveAny {
		unstranded = bothStrands(prof)
	}
	for _, r := range rs.Regions() {
		if filter != nil && !filter(r) {
			continue
		}
		tr := unstranded
		if !haveAny && r.Strand != regions.Any {
			tr = prof[r.Strand]
		}
		values, err := BinRegion(tr, r, binCount)
		if err != nil {
			return nil, errors.Wrapf(err, "region group %s, design group %s", m.RegionGroup, designGroup)
		}
		m.Rows = append(m.Rows, Row{Region: r, Values: values})
	}
	return m, nil
}

// bothStrands collapses a strand-specific profile into one track for
// unstranded regions.
func bothStrands(prof coverage.Profile) *coverage.Track {
	plus, minus := prof[regions.Plus], prof[regions.Minus]
	switch {
	case plus != nil && minus != nil:
		return coverage.Add(plus, minus)
	case plus != nil:
		return plus
	default:
		return minus
	}
}

// Column gathers one value per row for the given bin index.
func (m *Matrix) Column(bin int) []float64 {
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row.Values[bin]
	}
	return out
}
