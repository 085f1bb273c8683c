// Package parallel runs embarrassingly-parallel per-source work units on a
// bounded worker pool, collecting every failure instead of stopping at the
// first one.
package parallel

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/traverse"
)

// Unit is one independent piece of work, keyed by an identifier that shows
// up in error reports (typically an alignment-source id).
type Unit struct {
	ID  string
	Run func() error
}

// UnitError is one failed unit inside an ExecutionError.
type UnitError struct {
	ID  string
	Err error
}

func (e UnitError) Error() string { return fmt.Sprintf("%s: %v", e.ID, e.Err) }

func (e UnitError) Unwrap() error { return e.Err }

// ExecutionError aggregates all per-unit failures from one dispatch. Units
// run to completion regardless of sibling failures (fail-slow).
type ExecutionError struct {
	Failures []UnitError
}

func (e *ExecutionError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d unit(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Run executes all units on at most limit workers. Workers share no mutable
// state: each unit writes only its own error slot. If any units fail, Run
// returns an *ExecutionError listing every failure in unit order.
func Run(limit int, units []Unit) error {
	if limit <= 0 {
		return fmt.Errorf("worker limit must be positive, got %d", limit)
	}
	errs := make([]error, len(units))
	_ = traverse.Limit(limit).Each(len(units), func(i int) error {
		errs[i] = units[i].Run()
		return nil
	})
	var failures []UnitError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, UnitError{ID: units[i].ID, Err: err})
		}
	}
	if len(failures) > 0 {
		return &ExecutionError{Failures: failures}
	}
	return nil
}
