package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDNCCounter struct {
	mu     sync.Mutex
	counts []int64
	errs   []error
	calls  int
}

func (f *fakeDNCCounter) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return 0, f.errs[i]
	}
	if i >= len(f.counts) {
		return f.counts[len(f.counts)-1], nil
	}
	return f.counts[i], nil
}

type fakeDNCGauge struct {
	mu    sync.Mutex
	sizes []int64
}

func (f *fakeDNCGauge) SetDNCListSize(size int64) {
	f.mu.Lock()
	f.sizes = append(f.sizes, size)
	f.mu.Unlock()
}

func (f *fakeDNCGauge) snapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sizes...)
}

func TestWatchDNCSize(t *testing.T) {
	store := &fakeDNCCounter{counts: []int64{40, 42}}
	gauge := &fakeDNCGauge{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchDNCSize(ctx, store, gauge, 5*time.Millisecond, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		return len(gauge.snapshot()) >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	sizes := gauge.snapshot()
	assert.Equal(t, int64(40), sizes[0], "seeded before the first tick")
	assert.Equal(t, int64(42), sizes[1])
}

func TestWatchDNCSize_PollFailureKeepsLastReading(t *testing.T) {
	store := &fakeDNCCounter{
		counts: []int64{40, 0, 41},
		errs:   []error{nil, errors.New("db down"), nil},
	}
	gauge := &fakeDNCGauge{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchDNCSize(ctx, store, gauge, 5*time.Millisecond, zap.NewNop())

	require.Eventually(t, func() bool {
		return len(gauge.snapshot()) >= 2
	}, 2*time.Second, time.Millisecond)

	sizes := gauge.snapshot()
	assert.Equal(t, []int64{40, 41}, sizes[:2], "the failed poll publishes nothing")
}
