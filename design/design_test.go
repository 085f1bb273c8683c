package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfournier2/metagene2/coverage"
	"github.com/ericfournier2/metagene2/regions"
)

func TestNewDesign(t *testing.T) {
	d, err := New(
		[]string{"chip1", "chip2", "ctrl1"},
		[]string{"groupA", "groupB"},
		[][]Role{
			{RoleInput, RoleNone},
			{RoleInput, RoleInput},
			{RoleControl, RoleNone},
		})
	require.NoError(t, err)
	groups := d.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"chip1", "chip2"}, groups[0].Inputs)
	assert.Equal(t, []string{"ctrl1"}, groups[0].Controls)
	assert.Equal(t, []string{"chip2"}, groups[1].Inputs)
	assert.Empty(t, groups[1].Controls)
	assert.ElementsMatch(t, []string{"chip1", "chip2", "ctrl1"}, d.SourceIDs())
}

func TestNewDesignErrors(t *testing.T) {
	// A group with only a control member is invalid.
	_, err := New([]string{"s1"}, []string{"g"}, [][]Role{{RoleControl}})
	require.Error(t, err)
	assert.IsType(t, InvalidDesignError{}, err)

	// Bad cell value.
	_, err = New([]string{"s1"}, []string{"g"}, [][]Role{{Role(7)}})
	require.Error(t, err)

	// Dimension mismatches.
	_, err = New([]string{"s1", "s2"}, []string{"g"}, [][]Role{{RoleInput}})
	require.Error(t, err)
	_, err = New([]string{"s1"}, []string{"g", "h"}, [][]Role{{RoleInput}})
	require.Error(t, err)
}

func TestDefaultDesign(t *testing.T) {
	d := Default([]string{"a", "b"})
	groups := d.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Name)
	assert.Equal(t, []string{"a"}, groups[0].Inputs)
}

func uniformTrack(seq string, start, end int, value float64) *coverage.Track {
	b := coverage.NewBuilder()
	b.AddFootprint(seq, start, end)
	tr := b.Build()
	tr.Scale(value)
	return tr
}

func TestAggregateSumsInputs(t *testing.T) {
	covs := map[string]coverage.Profile{
		"s1": {regions.Any: uniformTrack("chr1", 0, 100, 2)},
		"s2": {regions.Any: uniformTrack("chr1", 50, 150, 3)},
	}
	d, err := New([]string{"s1", "s2"}, []string{"g"}, [][]Role{{RoleInput}, {RoleInput}})
	require.NoError(t, err)

	out, err := Aggregate(covs, d, AggregateOpts{})
	require.NoError(t, err)
	tr := out["g"][regions.Any]
	require.NotNil(t, tr)
	assert.InDelta(t, 5.0, tr.WeightedSum("chr1", 50, 51), 1e-9)
	assert.InDelta(t, 2.0, tr.WeightedSum("chr1", 0, 1), 1e-9)

	// Inputs must not be mutated by aggregation.
	assert.InDelta(t, 2.0, covs["s1"][regions.Any].WeightedSum("chr1", 0, 1), 1e-9)
}

func TestAggregateRPMArithmetic(t *testing.T) {
	// Source 1: 10 aligned reads, raw value 4 at position P.
	// Source 2: 20 aligned reads, raw value 6 at P.
	// RPM-weighted sum at P must be 4*(1e6/10) + 6*(1e6/20) = 700000.
	s1 := uniformTrack("chr1", 100, 101, 4)
	s1.Scale(1e6 / 10)
	s2 := uniformTrack("chr1", 100, 101, 6)
	s2.Scale(1e6 / 20)
	covs := map[string]coverage.Profile{
		"s1": {regions.Any: s1},
		"s2": {regions.Any: s2},
	}
	d, err := New([]string{"s1", "s2"}, []string{"g"}, [][]Role{{RoleInput}, {RoleInput}})
	require.NoError(t, err)

	out, err := Aggregate(covs, d, AggregateOpts{Normalization: NormalizationRPM})
	require.NoError(t, err)
	assert.InDelta(t, 700000.0, out["g"][regions.Any].WeightedSum("chr1", 100, 101), 1e-6)
}

func TestAggregateUnknownMethods(t *testing.T) {
	covs := map[string]coverage.Profile{"s1": {regions.Any: uniformTrack("chr1", 0, 10, 1)}}
	d := Default([]string{"s1"})
	_, err := Aggregate(covs, d, AggregateOpts{Normalization: "TMM"})
	assert.Error(t, err)
	_, err = Aggregate(covs, d, AggregateOpts{NoiseRemoval: "subtract"})
	assert.Error(t, err)
}

func TestAggregateMissingCoverage(t *testing.T) {
	d := Default([]string{"s1"})
	_, err := Aggregate(map[string]coverage.Profile{}, d, AggregateOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1")
}

func TestEstimateNCISBackgroundRatio(t *testing.T) {
	// Control: uniform depth 2 over 1kb. Chip: depth 1 over the first 800b
	// (background, ratio 0.5) and depth 50 over the last 200b (enriched).
	// The sweep must stall at the background ratio.
	chip := coverage.Add(
		uniformTrack("chr1", 0, 800, 1),
		uniformTrack("chr1", 800, 1000, 50),
	)
	control := uniformTrack("chr1", 0, 1000, 2)

	coef := EstimateNCIS(chip, control, 10)
	assert.InDelta(t, 0.5, coef, 0.01)
}

func TestEstimateNCISCappedByTotalRatio(t *testing.T) {
	// Chip uniformly 3x the control: no bin is background-like, so the
	// estimate falls back to, and is capped by, the total mass ratio.
	chip := uniformTrack("chr1", 0, 1000, 6)
	control := uniformTrack("chr1", 0, 1000, 2)
	coef := EstimateNCIS(chip, control, 10)
	assert.InDelta(t, 3.0, coef, 0.05)
}

func TestEstimateNCISNoControlMass(t *testing.T) {
	chip := uniformTrack("chr1", 0, 100, 1)
	assert.Equal(t, 1.0, EstimateNCIS(chip, coverage.NewTrack(), 10))
}

func TestAggregateNCISSubtraction(t *testing.T) {
	// Chip at depth 10 where control sits at depth 4 with an exact
	// background ratio of 0.5 elsewhere: result = max(0, 10 - 0.5*4) = 8.
	chip := coverage.Add(
		uniformTrack("chr1", 0, 1000, 1), // background, ratio 0.5 vs control
		uniformTrack("chr1", 1000, 1010, 10), // peak
	)
	control := coverage.Add(
		uniformTrack("chr1", 0, 1000, 2),
		uniformTrack("chr1", 1000, 1010, 4), // depth 4 under the peak
	)
	covs := map[string]coverage.Profile{
		"chip": {regions.Any: chip},
		"ctrl": {regions.Any: control},
	}
	d, err := New([]string{"chip", "ctrl"}, []string{"g"}, [][]Role{{RoleInput}, {RoleControl}})
	require.NoError(t, err)

	out, err := Aggregate(covs, d, AggregateOpts{NoiseRemoval: NoiseRemovalNCIS, NCISBinSize: 10})
	require.NoError(t, err)
	got := out["g"][regions.Any].WeightedSum("chr1", 1000, 1010) / 10
	assert.InDelta(t, 8.0, got, 0.1)
}
