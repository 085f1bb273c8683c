package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllSucceed(t *testing.T) {
	var ran int64
	units := make([]Unit, 10)
	for i := range units {
		units[i] = Unit{ID: "u", Run: func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		}}
	}
	require.NoError(t, Run(4, units))
	assert.Equal(t, int64(10), ran)
}

func TestRunFailSlow(t *testing.T) {
	var ran int64
	boom := errors.New("boom")
	units := []Unit{
		{ID: "ok1", Run: func() error { atomic.AddInt64(&ran, 1); return nil }},
		{ID: "bad1", Run: func() error { atomic.AddInt64(&ran, 1); return boom }},
		{ID: "ok2", Run: func() error { atomic.AddInt64(&ran, 1); return nil }},
		{ID: "bad2", Run: func() error { atomic.AddInt64(&ran, 1); return errors.New("worse") }},
	}
	err := Run(2, units)
	require.Error(t, err)
	assert.Equal(t, int64(4), ran, "all units run despite failures")

	execErr, ok := err.(*ExecutionError)
	require.True(t, ok)
	require.Len(t, execErr.Failures, 2)
	assert.Equal(t, "bad1", execErr.Failures[0].ID)
	assert.Equal(t, boom, execErr.Failures[0].Err)
	assert.Equal(t, "bad2", execErr.Failures[1].ID)
	assert.Contains(t, err.Error(), "2 unit(s) failed")
}

func TestRunBadLimit(t *testing.T) {
	assert.Error(t, Run(0, nil))
	assert.Error(t, Run(-3, nil))
}

func TestRunEmpty(t *testing.T) {
	assert.NoError(t, Run(1, nil))
}
