// Package bootstrap estimates per-bin means and confidence intervals by
// resampling binned coverage values with replacement.
package bootstrap

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/ericfournier2/metagene2/binning"
)

// Strategy selects what the resampled containers hold.
type Strategy string

const (
	// ByRegion resamples over the regions of a group: each bin's container
	// has one value per region.
	ByRegion Strategy = "by_region"
	// BySource resamples over replicate sources: each bin's container has
	// one value per source, the mean over that source's regions.
	BySource Strategy = "by_source"
)

// Options controls confidence estimation.
type Options struct {
	// Alpha is the two-sided miscoverage rate; the interval spans the
	// empirical alpha/2 and 1-alpha/2 quantiles. Zero defaults to 0.05.
	Alpha float64

	// SampleCount is the number of bootstrap resamples. Zero defaults to
	// 1000.
	SampleCount int

	// Seed fixes the random source for reproducible intervals. Zero seeds
	// from the clock.
	Seed int64
}

// InsufficientDataError reports a cell with fewer than two underlying
// values, which cannot be resampled meaningfully.
type InsufficientDataError struct {
	RegionGroup string
	DesignGroup string
	Bin         int
	N           int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("region group %s, design group %s, bin %d: %d value(s), need at least 2",
		e.RegionGroup, e.DesignGroup, e.Bin, e.N)
}

// Result is the confidence estimate for one bin of one group pair.
type Result struct {
	RegionGroup string
	DesignGroup string
	Bin         int
	Mean        float64
	Lower       float64
	Upper       float64
	SampleSize  int
}

func (o Options) normalize() Options {
	if o.Alpha <= 0 {
		o.Alpha = 0.05
	}
	if o.SampleCount <= 0 {
		o.SampleCount = 1000
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// Estimate computes per-bin confidence results for a matrix under the
// by-region strategy.
func Estimate(m *binning.Matrix, opts Options) ([]Result, error) {
	opts = opts.normalize()
	rng := rand.New(rand.NewSource(opts.Seed))
	out := make([]Result, 0, m.BinCount)
	for bin := 0; bin < m.BinCount; bin++ {
		values := m.Column(bin)
		res, err := estimateCell(values, m.RegionGroup, m.DesignGroup, bin, opts, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// EstimateBySource computes per-bin confidence results across replicate
// matrices, one per source, of the same group pair. Each bin's container
// holds one value per replicate: the mean over that replicate's regions.
func EstimateBySource(ms []*binning.Matrix, opts Options) ([]Result, error) {
	if len(ms) == 0 {
		return nil, errors.New("no replicate matrices")
	}
	opts = opts.normalize()
	first := ms[0]
	for _, m := range ms[1:] {
		if m.BinCount != first.BinCount {
			return nil, errors.Errorf("replicate bin counts differ: %d vs %d", m.BinCount, first.BinCount)
		}
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	out := make([]Result, 0, first.BinCount)
	for bin := 0; bin < first.BinCount; bin++ {
		values := make([]float64, len(ms))
		for i, m := range ms {
			values[i] = stat.Mean(m.Column(bin), nil)
		}
		res, err := estimateCell(values, first.RegionGroup, first.DesignGroup, bin, opts, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func estimateCell(values []float64, regionGroup, designGroup string, bin int, opts Options, rng *rand.Rand) (Result, error) {
	if len(values) < 2 {
		return Result{}, InsufficientDataError{
			RegionGroup: regionGroup, DesignGroup: designGroup, Bin: bin, N: len(values),
		}
	}
	means := make([]float64, opts.SampleCount)
	for k := range means {
		var sum float64
		for i := 0; i < len(values); i++ {
			sum += values[rng.Intn(len(values))]
		}
		means[k] = sum / float64(len(values))
	}
	sort.Float64s(means)
	return Result{
		RegionGroup: regionGroup,
		DesignGroup: designGroup,
		Bin:         bin,
		Mean:        stat.Mean(values, nil),
		Lower:       stat.Quantile(opts.Alpha/2, stat.Empirical, means, nil),
		Upper:       stat.Quantile(1-opts.Alpha/2, stat.Empirical, means, nil),
		SampleSize:  len(values),
	}, nil
}
