package metagene

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfournier2/metagene2/coverage"
	"github.com/ericfournier2/metagene2/design"
	"github.com/ericfournier2/metagene2/parallel"
	"github.com/ericfournier2/metagene2/params"
	"github.com/ericfournier2/metagene2/regions"
)

type footprint struct {
	seq        string
	start, end int
}

// fakeSource serves a fixed footprint set, honoring the extraction weight
// the way real extraction does.
type fakeSource struct {
	id         string
	count      uint64
	footprints []footprint
	calls      int32
	failWith   error
}

func (f *fakeSource) ID() string           { return f.id }
func (f *fakeSource) AlignedCount() uint64 { return f.count }

func (f *fakeSource) Extract(rs *regions.RegionSet, opts coverage.Options) (coverage.Profile, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	b := coverage.NewBuilder()
	for _, fp := range f.footprints {
		b.AddFootprint(fp.seq, fp.start, fp.end)
	}
	tr := b.Build()
	if opts.Weight > 0 && opts.Weight != 1 {
		tr.Scale(opts.Weight)
	}
	return coverage.Profile{regions.Any: tr}, nil
}

func flatInput() regions.Input {
	return regions.FromRegions([]regions.Region{
		{Seq: "chr1", Start: 0, End: 100, Name: "r1", Group: "tss"},
		{Seq: "chr1", Start: 200, End: 300, Name: "r2", Group: "tss"},
		{Seq: "chr1", Start: 400, End: 500, Name: "r3", Group: "tss"},
	})
}

func newTestPipeline(t *testing.T, srcs ...Extractor) *Pipeline {
	t.Helper()
	p, err := NewPipeline(srcs, flatInput(), nil, Opts{})
	require.NoError(t, err)
	require.NoError(t, p.Params().SetBinCount(4))
	p.Params().SetSeed(42)
	return p
}

func TestNewPipelineValidation(t *testing.T) {
	s1 := &fakeSource{id: "a", count: 10}
	dup := &fakeSource{id: "a", count: 20}
	_, err := NewPipeline([]Extractor{s1, dup}, flatInput(), nil, Opts{})
	require.Error(t, err)
	assert.IsType(t, DuplicateSourceError{}, err)

	_, err = NewPipeline(nil, flatInput(), nil, Opts{})
	assert.Error(t, err)

	d, err := design.New([]string{"ghost"}, []string{"g"}, [][]design.Role{{design.RoleInput}})
	require.NoError(t, err)
	_, err = NewPipeline([]Extractor{s1}, flatInput(), d, Opts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestPipelineTable(t *testing.T) {
	src := &fakeSource{id: "s1", count: 100, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	p := newTestPipeline(t, src)

	rows, err := p.Table()
	require.NoError(t, err)
	require.Len(t, rows, 4, "one region set x one group x four bins")
	for i, row := range rows {
		assert.Equal(t, "tss", row.RegionGroup)
		assert.Equal(t, "s1", row.DesignGroup)
		assert.Equal(t, i, row.Bin)
		assert.InDelta(t, 1.0, row.Mean, 1e-9, "uniform depth 1 everywhere")
		assert.Equal(t, 1.0, row.Lower)
		assert.Equal(t, 1.0, row.Upper)
	}
}

func TestPipelineCacheInvalidation(t *testing.T) {
	src := &fakeSource{id: "s1", count: 100, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	p := newTestPipeline(t, src)

	_, err := p.Confidence()
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	// Changing the bin count must not re-extract coverage or re-aggregate,
	// only rebuild the matrix and the confidence results.
	require.NoError(t, p.Params().SetBinCount(2))
	assert.False(t, p.Params().Dirty(params.StageCoverage))
	assert.False(t, p.Params().Dirty(params.StageGrouped))
	assert.True(t, p.Params().Dirty(params.StageBinned))

	rows, err := p.Table()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls), "coverage cache reused")

	// Changing extension re-extracts.
	require.NoError(t, p.Params().SetExtend(50))
	_, err = p.Confidence()
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestPipelineRPMWeight(t *testing.T) {
	src := &fakeSource{id: "s1", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	p := newTestPipeline(t, src)
	require.NoError(t, p.Params().SetNormalization("RPM"))

	rows, err := p.Table()
	require.NoError(t, err)
	assert.InDelta(t, 1e5, rows[0].Mean, 1e-6, "depth 1 at 10 aligned reads = 1e6/10")

	// RPM with a zero aligned count is an error.
	empty := &fakeSource{id: "s2", count: 0, footprints: []footprint{{"chr1", 0, 100}}}
	p2 := newTestPipeline(t, empty)
	require.NoError(t, p2.Params().SetNormalization("RPM"))
	_, err = p2.Coverage()
	assert.Error(t, err)
}

func TestPipelineAggregatesFailures(t *testing.T) {
	good := &fakeSource{id: "good", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	bad1 := &fakeSource{id: "bad1", count: 10, failWith: errors.New("truncated file")}
	bad2 := &fakeSource{id: "bad2", count: 10, failWith: errors.New("broken index")}
	p := newTestPipeline(t, good, bad1, bad2)

	_, err := p.Coverage()
	require.Error(t, err)
	execErr, ok := err.(*parallel.ExecutionError)
	require.True(t, ok)
	require.Len(t, execErr.Failures, 2)
	assert.Equal(t, "bad1", execErr.Failures[0].ID)
	assert.Equal(t, "bad2", execErr.Failures[1].ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&good.calls), "healthy unit still ran")
}

func TestPipelineBySourceStrategy(t *testing.T) {
	s1 := &fakeSource{id: "s1", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	s2 := &fakeSource{id: "s2", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 0, 100},
		{"chr1", 200, 300}, {"chr1", 200, 300},
		{"chr1", 400, 500}, {"chr1", 400, 500},
	}}
	d, err := design.New([]string{"s1", "s2"}, []string{"g"},
		[][]design.Role{{design.RoleInput}, {design.RoleInput}})
	require.NoError(t, err)
	p, err := NewPipeline([]Extractor{s1, s2}, flatInput(), d, Opts{})
	require.NoError(t, err)
	require.NoError(t, p.Params().SetBinCount(2))
	p.Params().SetSeed(7)
	require.NoError(t, p.Params().SetResamplingStrategy("by_source"))

	rows, err := p.Table()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Replicate means are 1 and 2; the point estimate is their mean.
	assert.InDelta(t, 1.5, rows[0].Mean, 1e-9)
}

func TestPipelineClone(t *testing.T) {
	src := &fakeSource{id: "s1", count: 100, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	p := newTestPipeline(t, src)
	_, err := p.Table()
	require.NoError(t, err)

	c := p.Clone()
	require.NoError(t, c.Params().SetBinCount(8))
	rows, err := c.Table()
	require.NoError(t, err)
	assert.Len(t, rows, 8)

	// The original's parameters and results are untouched.
	assert.Equal(t, 4, p.Params().Config().BinCount)
	rows, err = p.Table()
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestPipelineDefaultDesignOneGroupPerSource(t *testing.T) {
	s1 := &fakeSource{id: "s1", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	s2 := &fakeSource{id: "s2", count: 10, footprints: []footprint{
		{"chr1", 0, 100}, {"chr1", 200, 300}, {"chr1", 400, 500},
	}}
	p := newTestPipeline(t, s1, s2)
	rows, err := p.Table()
	require.NoError(t, err)
	assert.Len(t, rows, 8, "two design groups x four bins")
}
