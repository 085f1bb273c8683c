package regions

import "fmt"

// Input is a tagged-variant description of region input. Heterogeneous user
// input (a flat region list, or named groups of regions) is resolved exactly
// once, at the pipeline boundary, into canonical RegionSets; nothing
// downstream inspects input shapes.
type Input struct {
	kind   inputKind
	flat   []Region
	groups map[string][]Region
	order  []string
}

type inputKind int

const (
	inputFlat inputKind = iota + 1
	inputGrouped
)

// FromRegions wraps a flat region list. Regions are partitioned into sets by
// their Group field; regions with an empty group share a single "regions"
// set.
func FromRegions(regs []Region) Input {
	return Input{kind: inputFlat, flat: regs}
}

// FromGroups wraps explicitly named region groups. Set order follows the
// order slice; groups absent from it are dropped.
func FromGroups(groups map[string][]Region, order []string) Input {
	return Input{kind: inputGrouped, groups: groups, order: order}
}

// Resolve converts the input into canonical RegionSets, applying opts to
// each set.
func (in Input) Resolve(opts Opts) ([]*RegionSet, error) {
	switch in.kind {
	case inputFlat:
		groups := map[string][]Region{}
		var order []string
		for _, r := range in.flat {
			g := r.Group
			if g == "" {
				g = "regions"
			}
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], r)
		}
		return resolveGroups(groups, order, opts)
	case inputGrouped:
		return resolveGroups(in.groups, in.order, opts)
	default:
		return nil, fmt.Errorf("region input not initialized")
	}
}

func resolveGroups(groups map[string][]Region, order []string, opts Opts) ([]*RegionSet, error) {
	if len(order) == 0 {
		return nil, EmptyRegionSetError{Group: ""}
	}
	sets := make([]*RegionSet, 0, len(order))
	for _, g := range order {
		rs, err := NewRegionSet(g, groups[g], opts)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}
	return sets, nil
}
