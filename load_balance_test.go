package mwreactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	opts := defaultOptions()
	workers := []*Worker{newWorker(1, opts), newWorker(2, opts), newWorker(3, opts)}

	next := RoundRobin()
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, next(workers).ID())
	}
	require.Equal(t, []int{1, 2, 3, 1, 2, 3, 1}, got)

	// independent strategies keep independent counters
	require.Equal(t, 1, RoundRobin()(workers).ID())
}

func TestRoundRobinSingleWorker(t *testing.T) {
	w := newWorker(1, defaultOptions())
	next := RoundRobin()
	for i := 0; i < 3; i++ {
		require.Same(t, w, next([]*Worker{w}))
	}
}
