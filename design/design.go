// Package design groups alignment sources into named analysis groups with
// input and control roles, and aggregates per-source coverage into
// per-group coverage.
package design

import (
	"fmt"
)

// Role is a source's part in a design group.
type Role int

const (
	// RoleNone excludes the source from the group.
	RoleNone Role = 0
	// RoleInput marks a signal (chip) member.
	RoleInput Role = 1
	// RoleControl marks a background member used for noise removal.
	RoleControl Role = 2
)

// InvalidDesignError reports a design that cannot drive aggregation.
type InvalidDesignError struct {
	Group  string
	Reason string
}

func (e InvalidDesignError) Error() string {
	return fmt.Sprintf("design group %q: %s", e.Group, e.Reason)
}

// Group is one named design group.
type Group struct {
	Name     string
	Inputs   []string
	Controls []string
}

// Design is an ordered set of groups. Immutable after New.
type Design struct {
	groups []Group
}

// New builds a design from a role matrix: rows follow sources, columns
// follow groups. Every group must have at least one input member.
func New(sources, groups []string, cells [][]Role) (*Design, error) {
	if len(cells) != len(sources) {
		return nil, InvalidDesignError{Reason: fmt.Sprintf(
			"matrix has %d rows for %d sources", len(cells), len(sources))}
	}
	d := &Design{groups: make([]Group, len(groups))}
	for j, name := range groups {
		d.groups[j].Name = name
	}
	for i, row := range cells {
		if len(row) != len(groups) {
			return nil, InvalidDesignError{Reason: fmt.Sprintf(
				"row %d has %d cells for %d groups", i, len(row), len(groups))}
		}
		for j, role := range row {
			switch role {
			case RoleNone:
			case RoleInput:
				d.groups[j].Inputs = append(d.groups[j].Inputs, sources[i])
			case RoleControl:
				d.groups[j].Controls = append(d.groups[j].Controls, sources[i])
			default:
				return nil, InvalidDesignError{Group: groups[j], Reason: fmt.Sprintf(
					"cell value %d for source %q is not 0, 1 or 2", role, sources[i])}
			}
		}
	}
	for _, g := range d.groups {
		if len(g.Inputs) == 0 {
			return nil, InvalidDesignError{Group: g.Name, Reason: "no input members"}
		}
	}
	return d, nil
}

// Default returns the one-group-per-source design used when the caller
// supplies no matrix.
func Default(sources []string) *Design {
	d := &Design{groups: make([]Group, len(sources))}
	for i, s := range sources {
		d.groups[i] = Group{Name: s, Inputs: []string{s}}
	}
	return d
}

// Groups returns the design's groups in order. Callers must not modify the
// result.
func (d *Design) Groups() []Group { return d.groups }

// SourceIDs returns every distinct source referenced by the design.
func (d *Design) SourceIDs() []string {
	seen := map[string]bool{}
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	for _, g := range d.groups {
		add(g.Inputs)
		add(g.Controls)
	}
	return out
}
