package design

import (
	"sort"

	"github.com/ericfournier2/metagene2/coverage"
)

// EstimateNCIS estimates the background scaling coefficient between a chip
// track and its control. Genome bins of binSize bases are ranked by combined
// depth; sweeping bins from shallowest to deepest, the chip/control mass
// ratio rises as enriched bins enter the sum. The estimate is the ratio at
// the first threshold where that rise stalls (relative increase under 1%),
// falling back to the ratio at the median bin, and is capped by the
// whole-track mass ratio.
func EstimateNCIS(chip, control *coverage.Track, binSize int) float64 {
	type bin struct {
		chip, ctrl float64
	}
	var bins []bin
	var totalChip, totalCtrl float64

	seqs := map[string]bool{}
	for _, s := range chip.Seqs() {
		seqs[s] = true
	}
	for _, s := range control.Seqs() {
		seqs[s] = true
	}
	for seq := range seqs {
		lo, hi := coveredExtent(chip, control, seq)
		if lo >= hi {
			continue
		}
		for w := (lo / binSize) * binSize; w < hi; w += binSize {
			c := chip.WeightedSum(seq, w, w+binSize)
			b := control.WeightedSum(seq, w, w+binSize)
			if c == 0 && b == 0 {
				continue
			}
			bins = append(bins, bin{chip: c, ctrl: b})
			totalChip += c
			totalCtrl += b
		}
	}
	if totalCtrl == 0 {
		return 1
	}
	totalRatio := totalChip / totalCtrl

	sort.Slice(bins, func(i, j int) bool {
		return bins[i].chip+bins[i].ctrl < bins[j].chip+bins[j].ctrl
	})

	var cumChip, cumCtrl, prev float64
	havePrev := false
	for i, b := range bins {
		cumChip += b.chip
		cumCtrl += b.ctrl
		if cumCtrl == 0 {
			continue
		}
		ratio := cumChip / cumCtrl
		if havePrev && ratio <= prev*1.01 {
			return capped(ratio, totalRatio)
		}
		if i >= len(bins)/2 {
			return capped(ratio, totalRatio)
		}
		prev, havePrev = ratio, true
	}
	return capped(totalRatio, totalRatio)
}

func capped(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

// coveredExtent returns the smallest interval on seq containing all runs of
// both tracks.
func coveredExtent(a, b *coverage.Track, seq string) (int, int) {
	lo, hi := int(^uint(0)>>1), 0
	for _, t := range []*coverage.Track{a, b} {
		runs := t.Runs(seq)
		if len(runs) == 0 {
			continue
		}
		if runs[0].Start < lo {
			lo = runs[0].Start
		}
		if runs[len(runs)-1].End > hi {
			hi = runs[len(runs)-1].End
		}
	}
	if hi == 0 {
		return 0, 0
	}
	return lo, hi
}
