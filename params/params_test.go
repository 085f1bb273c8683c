package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfournier2/metagene2/regions"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, 100, c.BinCount)
	assert.Equal(t, 0.05, c.Alpha)
	assert.Equal(t, 1000, c.SampleCount)
	assert.Equal(t, "by_region", c.ResamplingStrategy)
	assert.Equal(t, 2, c.PairedEndStrandMode)
	assert.Equal(t, 1, c.CoreCount)
	assert.False(t, c.StrandSpecific)
	assert.Empty(t, c.Normalization)
}

func cleanStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	for st := StageRegions; st < numStages; st++ {
		s.MarkClean(st)
	}
	return s
}

func TestNewStoreStartsDirty(t *testing.T) {
	s := NewStore()
	for st := StageRegions; st < numStages; st++ {
		assert.True(t, s.Dirty(st), st.String())
	}
}

func TestBinCountInvalidatesDownstreamOnly(t *testing.T) {
	s := cleanStore(t)
	v := s.Version()
	require.NoError(t, s.SetBinCount(50))

	assert.False(t, s.Dirty(StageRegions))
	assert.False(t, s.Dirty(StageCoverage))
	assert.False(t, s.Dirty(StageGrouped))
	assert.True(t, s.Dirty(StageBinned))
	assert.True(t, s.Dirty(StageCI))
	assert.Greater(t, s.Version(), v)
	assert.Equal(t, 50, s.Config().BinCount)
	assert.True(t, s.Overridden("bin_count"))
}

func TestCoverageParamsInvalidateCoverage(t *testing.T) {
	for name, set := range map[string]func(*Store){
		"extend":          func(s *Store) { _ = s.SetExtend(200) },
		"strand_specific": func(s *Store) { s.SetStrandSpecific(true) },
		"paired_end":      func(s *Store) { s.SetPairedEnd(true) },
		"strand_mode":     func(s *Store) { _ = s.SetPairedEndStrandMode(1) },
		"normalization":   func(s *Store) { _ = s.SetNormalization("RPM") },
	} {
		t.Run(name, func(t *testing.T) {
			s := cleanStore(t)
			set(s)
			assert.False(t, s.Dirty(StageRegions))
			assert.True(t, s.Dirty(StageCoverage))
			assert.True(t, s.Dirty(StageBinned))
			assert.True(t, s.Dirty(StageCI))
		})
	}
}

func TestNoiseRemovalInvalidatesGrouped(t *testing.T) {
	s := cleanStore(t)
	require.NoError(t, s.SetNoiseRemoval("NCIS"))
	assert.False(t, s.Dirty(StageCoverage))
	assert.True(t, s.Dirty(StageGrouped))
	assert.True(t, s.Dirty(StageBinned))
}

func TestCIParamsInvalidateCIOnly(t *testing.T) {
	s := cleanStore(t)
	require.NoError(t, s.SetAlpha(0.01))
	require.NoError(t, s.SetSampleCount(500))
	require.NoError(t, s.SetResamplingStrategy("by_source"))
	s.SetSeed(42)
	assert.False(t, s.Dirty(StageBinned))
	assert.True(t, s.Dirty(StageCI))
}

func TestCoreCountInvalidatesNothing(t *testing.T) {
	s := cleanStore(t)
	require.NoError(t, s.SetCoreCount(8))
	for st := StageRegions; st < numStages; st++ {
		assert.False(t, s.Dirty(st), st.String())
	}
	assert.Equal(t, 8, s.Config().CoreCount)
}

func TestRegionFilterInvalidatesBinned(t *testing.T) {
	s := cleanStore(t)
	s.SetRegionFilter(func(r regions.Region) bool { return r.Width() > 100 })
	assert.False(t, s.Dirty(StageGrouped))
	assert.True(t, s.Dirty(StageBinned))
	assert.NotNil(t, s.Config().RegionFilter)
}

func TestValidationRejectsBadValues(t *testing.T) {
	s := cleanStore(t)
	assert.Error(t, s.SetBinCount(0))
	assert.Error(t, s.SetAlpha(0))
	assert.Error(t, s.SetAlpha(1))
	assert.Error(t, s.SetSampleCount(0))
	assert.Error(t, s.SetResamplingStrategy("jackknife"))
	assert.Error(t, s.SetExtend(-1))
	assert.Error(t, s.SetPairedEndStrandMode(3))
	assert.Error(t, s.SetNormalization("TMM"))
	assert.Error(t, s.SetNoiseRemoval("subtract"))
	assert.Error(t, s.SetCoreCount(0))
	// Rejected sets leave everything clean.
	for st := StageRegions; st < numStages; st++ {
		assert.False(t, s.Dirty(st), st.String())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := cleanStore(t)
	require.NoError(t, s.SetBinCount(10))
	c := s.Clone()
	require.NoError(t, c.SetBinCount(20))
	assert.Equal(t, 10, s.Config().BinCount)
	assert.Equal(t, 20, c.Config().BinCount)
	assert.True(t, c.Overridden("bin_count"))
}

func TestInvalidateFrom(t *testing.T) {
	s := cleanStore(t)
	s.InvalidateFrom(StageGrouped)
	assert.False(t, s.Dirty(StageCoverage))
	assert.True(t, s.Dirty(StageGrouped))
	assert.True(t, s.Dirty(StageCI))
}
