// Package params holds the pipeline's layered configuration: an immutable
// default layer under explicit per-key overrides, with a stage dependency
// graph so that changing one parameter dirties only the downstream caches.
package params

import (
	"fmt"

	"github.com/ericfournier2/metagene2/regions"
)

// Stage identifies one cached pipeline stage. Stages form a chain: each
// depends on the one before it.
type Stage int

const (
	// StageRegions is the resolved region sets.
	StageRegions Stage = iota
	// StageCoverage is the per-source coverage profiles.
	StageCoverage
	// StageGrouped is the per-design-group aggregated coverage.
	StageGrouped
	// StageBinned is the per-region per-bin matrix.
	StageBinned
	// StageCI is the bootstrap confidence results.
	StageCI

	numStages
)

func (s Stage) String() string {
	switch s {
	case StageRegions:
		return "regions"
	case StageCoverage:
		return "coverage"
	case StageGrouped:
		return "grouped"
	case StageBinned:
		return "binned"
	case StageCI:
		return "ci"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Config is the full parameter surface.
type Config struct {
	BinCount            int
	Alpha               float64
	SampleCount         int
	ResamplingStrategy  string
	Extend              int
	StrandSpecific      bool
	PairedEnd           bool
	PairedEndStrandMode int
	Normalization       string
	NoiseRemoval        string
	CoreCount           int
	Seed                int64
	RegionFilter        func(regions.Region) bool
}

// Defaults returns the base configuration layer.
func Defaults() Config {
	return Config{
		BinCount:            100,
		Alpha:               0.05,
		SampleCount:         1000,
		ResamplingStrategy:  "by_region",
		Extend:              0,
		StrandSpecific:      false,
		PairedEnd:           false,
		PairedEndStrandMode: 2,
		Normalization:       "",
		NoiseRemoval:        "",
		CoreCount:           1,
		Seed:                0,
	}
}

// Store is a versioned parameter store. Every successful Set bumps the
// version and dirties the owning stage and everything downstream of it;
// readers recompute dirty stages lazily and mark them clean.
type Store struct {
	cfg        Config
	version    uint64
	dirty      [numStages]bool
	overridden map[string]bool
}

// NewStore returns a store at the default layer with every stage dirty, so
// the first read computes everything.
func NewStore() *Store {
	s := &Store{cfg: Defaults(), overridden: map[string]bool{}}
	s.invalidateFrom(StageRegions)
	return s
}

// Config returns the current effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Version increases monotonically with every accepted parameter change.
func (s *Store) Version() uint64 { return s.version }

// Dirty reports whether the stage's cached artifact is stale.
func (s *Store) Dirty(stage Stage) bool { return s.dirty[stage] }

// MarkClean records that the stage's artifact has been recomputed.
func (s *Store) MarkClean(stage Stage) { s.dirty[stage] = false }

// Overridden reports whether the named parameter has ever been explicitly
// set above the default layer.
func (s *Store) Overridden(name string) bool { return s.overridden[name] }

// InvalidateFrom dirties stage and everything downstream. Exposed for
// inputs that live outside the store, such as replacing the region sets.
func (s *Store) InvalidateFrom(stage Stage) {
	s.invalidateFrom(stage)
	s.version++
}

func (s *Store) invalidateFrom(stage Stage) {
	for st := stage; st < numStages; st++ {
		s.dirty[st] = true
	}
}

func (s *Store) set(name string, stage Stage, apply func(*Config)) {
	apply(&s.cfg)
	s.overridden[name] = true
	if stage < numStages {
		s.invalidateFrom(stage)
	}
	s.version++
}

// SetBinCount changes the bin count, dirtying the binned matrix and
// confidence stages only.
func (s *Store) SetBinCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("bin count must be positive, got %d", n)
	}
	s.set("bin_count", StageBinned, func(c *Config) { c.BinCount = n })
	return nil
}

// SetAlpha changes the CI miscoverage rate.
func (s *Store) SetAlpha(a float64) error {
	if a <= 0 || a >= 1 {
		return fmt.Errorf("alpha must be in (0, 1), got %g", a)
	}
	s.set("alpha", StageCI, func(c *Config) { c.Alpha = a })
	return nil
}

// SetSampleCount changes the bootstrap resample count.
func (s *Store) SetSampleCount(n int) error {
	if n < 1 {
		return fmt.Errorf("sample count must be at least 1, got %d", n)
	}
	s.set("sample_count", StageCI, func(c *Config) { c.SampleCount = n })
	return nil
}

// SetResamplingStrategy changes the bootstrap container semantics.
func (s *Store) SetResamplingStrategy(strategy string) error {
	if strategy != "by_region" && strategy != "by_source" {
		return fmt.Errorf("unknown resampling strategy %q", strategy)
	}
	s.set("resampling_strategy", StageCI, func(c *Config) { c.ResamplingStrategy = strategy })
	return nil
}

// SetSeed fixes the bootstrap random source.
func (s *Store) SetSeed(seed int64) {
	s.set("seed", StageCI, func(c *Config) { c.Seed = seed })
}

// SetExtend changes the fragment extension width; coverage and everything
// after it must be recomputed.
func (s *Store) SetExtend(n int) error {
	if n < 0 {
		return fmt.Errorf("extend must be non-negative, got %d", n)
	}
	s.set("extend", StageCoverage, func(c *Config) { c.Extend = n })
	return nil
}

// SetStrandSpecific toggles per-strand coverage buckets.
func (s *Store) SetStrandSpecific(v bool) {
	s.set("strand_specific", StageCoverage, func(c *Config) { c.StrandSpecific = v })
}

// SetPairedEnd toggles paired-end fragment reconstruction.
func (s *Store) SetPairedEnd(v bool) {
	s.set("paired_end", StageCoverage, func(c *Config) { c.PairedEnd = v })
}

// SetPairedEndStrandMode selects the mate whose strand fragments take.
func (s *Store) SetPairedEndStrandMode(mode int) error {
	if mode != 1 && mode != 2 {
		return fmt.Errorf("paired-end strand mode must be 1 or 2, got %d", mode)
	}
	s.set("paired_end_strand_mode", StageCoverage, func(c *Config) { c.PairedEndStrandMode = mode })
	return nil
}

// SetNormalization selects coverage normalization ("" or "RPM"). The RPM
// weight is applied at extraction, so coverage is dirtied.
func (s *Store) SetNormalization(method string) error {
	if method != "" && method != "RPM" {
		return fmt.Errorf("unknown normalization %q", method)
	}
	s.set("normalization", StageCoverage, func(c *Config) { c.Normalization = method })
	return nil
}

// SetNoiseRemoval selects control subtraction ("" or "NCIS").
func (s *Store) SetNoiseRemoval(method string) error {
	if method != "" && method != "NCIS" {
		return fmt.Errorf("unknown noise removal %q", method)
	}
	s.set("noise_removal", StageGrouped, func(c *Config) { c.NoiseRemoval = method })
	return nil
}

// SetCoreCount changes the worker-pool size. Pure execution resource: no
// cached stage is invalidated.
func (s *Store) SetCoreCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("core count must be positive, got %d", n)
	}
	s.set("core_count", numStages, func(c *Config) { c.CoreCount = n })
	return nil
}

// SetRegionFilter installs a per-region predicate evaluated before binning.
func (s *Store) SetRegionFilter(filter func(regions.Region) bool) {
	s.set("region_filter", StageBinned, func(c *Config) { c.RegionFilter = filter })
}

// Clone returns an independent copy of the store, preserving the effective
// configuration, version, and dirty flags.
func (s *Store) Clone() *Store {
	c := &Store{cfg: s.cfg, version: s.version, dirty: s.dirty, overridden: map[string]bool{}}
	for k, v := range s.overridden {
		c.overridden[k] = v
	}
	return c
}
