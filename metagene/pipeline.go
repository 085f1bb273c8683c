// Package metagene wires the pipeline stages together: per-source coverage
// extraction, design-group aggregation, binning, and bootstrap confidence
// estimation, with per-stage caches driven by the parameter store's
// dependency graph.
package metagene

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"v.io/x/lib/vlog"

	"github.com/ericfournier2/metagene2/bamsource"
	"github.com/ericfournier2/metagene2/binning"
	"github.com/ericfournier2/metagene2/bootstrap"
	"github.com/ericfournier2/metagene2/coverage"
	"github.com/ericfournier2/metagene2/design"
	"github.com/ericfournier2/metagene2/parallel"
	"github.com/ericfournier2/metagene2/params"
	"github.com/ericfournier2/metagene2/regions"
)

// Extractor is one alignment source as the pipeline sees it. It is
// satisfied by the BAM-backed implementation below; tests substitute fakes.
type Extractor interface {
	ID() string
	AlignedCount() uint64
	Extract(rs *regions.RegionSet, opts coverage.Options) (coverage.Profile, error)
}

// bamExtractor adapts a bamsource.Source to the Extractor interface.
type bamExtractor struct {
	src *bamsource.Source
}

// NewBAMExtractor opens an indexed BAM file as a pipeline source.
// indexPath may be empty; see bamsource.FindIndex.
func NewBAMExtractor(id, path, indexPath string) (Extractor, error) {
	src, err := bamsource.New(id, path, indexPath)
	if err != nil {
		return nil, err
	}
	return bamExtractor{src: src}, nil
}

func (b bamExtractor) ID() string            { return b.src.ID() }
func (b bamExtractor) AlignedCount() uint64  { return b.src.AlignedCount() }
func (b bamExtractor) Extract(rs *regions.RegionSet, opts coverage.Options) (coverage.Profile, error) {
	return coverage.Extract(b.src, rs, opts)
}

// DuplicateSourceError reports two sources sharing an identifier.
type DuplicateSourceError struct {
	ID string
}

func (e DuplicateSourceError) Error() string {
	return fmt.Sprintf("duplicate source identifier %q", e.ID)
}

// GroupKey identifies one (region group, design group) matrix.
type GroupKey struct {
	RegionGroup string
	DesignGroup string
}

// Opts configures pipeline construction.
type Opts struct {
	// Padding widens every region at load time.
	Padding int
	// Lenient downgrades sequence mismatches to pruning during extraction.
	Lenient bool
}

// Pipeline owns an immutable source registry, the resolved region sets, a
// design, and per-stage caches. It is driven by its parameter store: reads
// recompute exactly the stages the store marks dirty. Not safe for
// concurrent use; workers never touch the store.
type Pipeline struct {
	sources map[string]Extractor
	order   []string
	sets    []*regions.RegionSet
	all     *regions.RegionSet
	dsn     *design.Design
	store   *params.Store
	lenient bool

	covs     map[string]coverage.Profile
	grouped  map[string]coverage.Profile
	matrices map[GroupKey]*binning.Matrix
	results  []bootstrap.Result
}

// NewPipeline validates the source registry and design, resolves the region
// input, and returns a pipeline with every stage pending.
func NewPipeline(sources []Extractor, input regions.Input, d *design.Design, opts Opts) (*Pipeline, error) {
	p := &Pipeline{
		sources: map[string]Extractor{},
		store:   params.NewStore(),
		lenient: opts.Lenient,
	}
	for _, src := range sources {
		if _, ok := p.sources[src.ID()]; ok {
			return nil, DuplicateSourceError{ID: src.ID()}
		}
		p.sources[src.ID()] = src
		p.order = append(p.order, src.ID())
	}
	if len(p.order) == 0 {
		return nil, errors.New("no alignment sources")
	}
	if d == nil {
		d = design.Default(p.order)
	}
	for _, id := range d.SourceIDs() {
		if _, ok := p.sources[id]; !ok {
			return nil, errors.Errorf("design references unknown source %q", id)
		}
	}
	p.dsn = d

	sets, err := input.Resolve(regions.Opts{Padding: opts.Padding})
	if err != nil {
		return nil, err
	}
	p.sets = sets

	// Coverage is extracted once over the union of all region sets.
	var union []regions.Region
	for _, rs := range sets {
		union = append(union, rs.Regions()...)
	}
	if p.all, err = regions.NewRegionSet("all", union, regions.Opts{}); err != nil {
		return nil, err
	}
	p.store.MarkClean(params.StageRegions)
	return p, nil
}

// Params exposes the pipeline's parameter store. Mutate it only between
// stage reads, never while a read is in flight.
func (p *Pipeline) Params() *params.Store { return p.store }

// RegionSets returns the resolved region sets.
func (p *Pipeline) RegionSets() []*regions.RegionSet { return p.sets }

// Design returns the pipeline's design.
func (p *Pipeline) Design() *design.Design { return p.dsn }

// Clone returns an independent pipeline sharing only the immutable source
// registry, region sets, and design. The parameter store is deep-copied;
// caches start empty, so the clone recomputes from its own parameters.
func (p *Pipeline) Clone() *Pipeline {
	c := &Pipeline{
		sources: p.sources,
		order:   p.order,
		sets:    p.sets,
		all:     p.all,
		dsn:     p.dsn,
		store:   p.store.Clone(),
		lenient: p.lenient,
	}
	c.store.InvalidateFrom(params.StageCoverage)
	return c
}

// Coverage computes (or returns cached) per-source coverage profiles for
// every source the design references. Per-source extraction runs on the
// worker pool; failures are aggregated fail-slow.
func (p *Pipeline) Coverage() (map[string]coverage.Profile, error) {
	if p.covs != nil && !p.store.Dirty(params.StageCoverage) {
		return p.covs, nil
	}
	cfg := p.store.Config()
	ids := p.dsn.SourceIDs()
	sort.Strings(ids)
	vlog.Infof("extracting coverage for %d sources over %d regions (%d workers)",
		len(ids), p.all.Len(), cfg.CoreCount)

	profiles := make([]coverage.Profile, len(ids))
	units := make([]parallel.Unit, len(ids))
	for i, id := range ids {
		i, id := i, id
		src := p.sources[id]
		opts := coverage.Options{
			StrandSpecific:      cfg.StrandSpecific,
			PairedEnd:           cfg.PairedEnd,
			PairedEndStrandMode: cfg.PairedEndStrandMode,
			Extend:              cfg.Extend,
			Lenient:             p.lenient,
		}
		if cfg.Normalization == design.NormalizationRPM {
			count := src.AlignedCount()
			if count == 0 {
				return nil, errors.Errorf("%s: cannot RPM-normalize a source with no aligned reads", id)
			}
			opts.Weight = 1e6 / float64(count)
		}
		units[i] = parallel.Unit{ID: id, Run: func() error {
			prof, err := src.Extract(p.all, opts)
			if err != nil {
				return err
			}
			profiles[i] = prof
			return nil
		}}
	}
	if err := parallel.Run(cfg.CoreCount, units); err != nil {
		return nil, err
	}
	p.covs = make(map[string]coverage.Profile, len(ids))
	for i, id := range ids {
		p.covs[id] = profiles[i]
	}
	p.store.MarkClean(params.StageCoverage)
	return p.covs, nil
}

// Grouped aggregates per-source coverage into per-design-group coverage.
func (p *Pipeline) Grouped() (map[string]coverage.Profile, error) {
	if p.grouped != nil && !p.store.Dirty(params.StageGrouped) {
		return p.grouped, nil
	}
	covs, err := p.Coverage()
	if err != nil {
		return nil, err
	}
	cfg := p.store.Config()
	grouped, err := design.Aggregate(covs, p.dsn, design.AggregateOpts{
		Normalization: cfg.Normalization,
		NoiseRemoval:  cfg.NoiseRemoval,
	})
	if err != nil {
		return nil, err
	}
	p.grouped = grouped
	p.store.MarkClean(params.StageGrouped)
	return p.grouped, nil
}

// Binned builds the per-(region group, design group) bin matrices.
func (p *Pipeline) Binned() (map[GroupKey]*binning.Matrix, error) {
	if p.matrices != nil && !p.store.Dirty(params.StageBinned) {
		return p.matrices, nil
	}
	grouped, err := p.Grouped()
	if err != nil {
		return nil, err
	}
	cfg := p.store.Config()
	matrices := map[GroupKey]*binning.Matrix{}
	for _, rs := range p.sets {
		for _, g := range p.dsn.Groups() {
			m, err := binning.Build(grouped[g.Name], rs, g.Name, cfg.BinCount, binning.Filter(cfg.RegionFilter))
			if err != nil {
				return nil, err
			}
			matrices[GroupKey{RegionGroup: rs.Group(), DesignGroup: g.Name}] = m
		}
	}
	p.matrices = matrices
	p.store.MarkClean(params.StageBinned)
	return p.matrices, nil
}

// Confidence runs bootstrap estimation over every matrix, honoring the
// configured resampling strategy.
func (p *Pipeline) Confidence() ([]bootstrap.Result, error) {
	if p.results != nil && !p.store.Dirty(params.StageCI) {
		return p.results, nil
	}
	matrices, err := p.Binned()
	if err != nil {
		return nil, err
	}
	cfg := p.store.Config()
	opts := bootstrap.Options{
		Alpha:       cfg.Alpha,
		SampleCount: cfg.SampleCount,
		Seed:        cfg.Seed,
	}

	var all []bootstrap.Result
	for _, rs := range p.sets {
		for _, g := range p.dsn.Groups() {
			var res []bootstrap.Result
			if cfg.ResamplingStrategy == string(bootstrap.BySource) {
				res, err = p.estimateBySource(rs, g, cfg, opts)
			} else {
				res, err = bootstrap.Estimate(matrices[GroupKey{rs.Group(), g.Name}], opts)
			}
			if err != nil {
				return nil, err
			}
			all = append(all, res...)
		}
	}
	p.results = all
	p.store.MarkClean(params.StageCI)
	return p.results, nil
}

// estimateBySource bins each input replicate of the group separately and
// resamples across replicates. Control subtraction does not apply here:
// replicates are raw (or RPM-weighted) per-source tracks.
func (p *Pipeline) estimateBySource(rs *regions.RegionSet, g design.Group, cfg params.Config, opts bootstrap.Options) ([]bootstrap.Result, error) {
	covs, err := p.Coverage()
	if err != nil {
		return nil, err
	}
	ms := make([]*binning.Matrix, 0, len(g.Inputs))
	for _, id := range g.Inputs {
		m, err := binning.Build(covs[id], rs, g.Name, cfg.BinCount, binning.Filter(cfg.RegionFilter))
		if err != nil {
			return nil, errors.Wrap(err, id)
		}
		ms = append(ms, m)
	}
	return bootstrap.EstimateBySource(ms, opts)
}

// Row is one line of the pipeline's tabular output, ready for an external
// renderer.
type Row struct {
	RegionGroup   string
	DesignGroup   string
	Bin           int
	PositionLabel string
	Mean          float64
	Lower         float64
	Upper         float64
}

// Table materializes the confidence results as one row per (region group,
// design group, bin).
func (p *Pipeline) Table() ([]Row, error) {
	results, err := p.Confidence()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(results))
	for i, r := range results {
		rows[i] = Row{
			RegionGroup:   r.RegionGroup,
			DesignGroup:   r.DesignGroup,
			Bin:           r.Bin,
			PositionLabel: fmt.Sprintf("bin_%d", r.Bin),
			Mean:          r.Mean,
			Lower:         r.Lower,
			Upper:         r.Upper,
		}
	}
	return rows, nil
}
