package design

import (
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/ericfournier2/metagene2/coverage"
)

// Normalization and noise-removal method names.
const (
	NormalizationRPM = "RPM"
	NoiseRemovalNCIS = "NCIS"
)

// AggregateOpts controls per-group aggregation.
type AggregateOpts struct {
	// Normalization is "" (raw) or "RPM". RPM weighting happens at
	// extraction time, so the value is validated here but summation is the
	// same either way.
	Normalization string

	// NoiseRemoval is "" or "NCIS". NCIS subtracts the scaled control sum
	// from the input sum, clipped at zero.
	NoiseRemoval string

	// NCISBinSize is the genome-bin width used by the NCIS estimator.
	// Zero defaults to 1000.
	NCISBinSize int
}

// Aggregate sums per-source coverage profiles into per-group profiles.
// covs maps source identifier to the profile extracted from that source.
func Aggregate(covs map[string]coverage.Profile, d *Design, opts AggregateOpts) (map[string]coverage.Profile, error) {
	if opts.Normalization != "" && opts.Normalization != NormalizationRPM {
		return nil, errors.Errorf("unknown normalization %q", opts.Normalization)
	}
	if opts.NoiseRemoval != "" && opts.NoiseRemoval != NoiseRemovalNCIS {
		return nil, errors.Errorf("unknown noise removal %q", opts.NoiseRemoval)
	}
	binSize := opts.NCISBinSize
	if binSize <= 0 {
		binSize = 1000
	}

	out := make(map[string]coverage.Profile, len(d.groups))
	for _, g := range d.groups {
		if len(g.Inputs) == 0 {
			return nil, InvalidDesignError{Group: g.Name, Reason: "no input members"}
		}
		input, err := sumProfiles(covs, g.Inputs, g.Name)
		if err != nil {
			return nil, err
		}
		if opts.NoiseRemoval == NoiseRemovalNCIS && len(g.Controls) > 0 {
			control, err := sumProfiles(covs, g.Controls, g.Name)
			if err != nil {
				return nil, err
			}
			for bucket, tr := range input {
				ctrl, ok := control[bucket]
				if !ok {
					continue
				}
				coef := EstimateNCIS(tr, ctrl, binSize)
				vlog.VI(1).Infof("group %s bucket %s: NCIS coefficient %.4f", g.Name, bucket, coef)
				input[bucket] = coverage.SubtractScaled(tr, ctrl, coef)
			}
		}
		out[g.Name] = input
	}
	return out, nil
}

// sumProfiles adds the named sources' profiles bucket-wise.
func sumProfiles(covs map[string]coverage.Profile, ids []string, group string) (coverage.Profile, error) {
	total := coverage.Profile{}
	for _, id := range ids {
		prof, ok := covs[id]
		if !ok {
			return nil, errors.Errorf("group %s: no coverage for source %q", group, id)
		}
		for bucket, tr := range prof {
			if cur, ok := total[bucket]; ok {
				total[bucket] = coverage.Add(cur, tr)
			} else {
				total[bucket] = tr.Clone()
			}
		}
	}
	return total, nil
}
