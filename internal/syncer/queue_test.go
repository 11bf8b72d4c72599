package syncer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   atomic.Int32
	gate    chan struct{} // first call blocks until closed
	started chan struct{}
}

func (r *fakeRunner) Sync(ctx context.Context) (*Summary, error) {
	if r.calls.Add(1) == 1 && r.gate != nil {
		close(r.started)
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Summary{}, nil
}

func waitResults(t *testing.T, ch <-chan error, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for pass %d", i+1)
		}
	}
}

func TestQueue_CoalescesDuringPass(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), started: make(chan struct{})}
	results := make(chan error, 10)
	q := NewQueue(r, time.Millisecond, WithResultFunc(func(_ *Summary, err error) { results <- err }))

	q.Trigger()
	<-r.started
	for i := 0; i < 5; i++ {
		q.Trigger()
	}
	assert.True(t, q.Pending())

	close(r.gate)
	waitResults(t, results, 2)
	q.Close()

	assert.Equal(t, int32(2), r.calls.Load())
	assert.False(t, q.Pending())
}

func TestQueue_Debounces(t *testing.T) {
	r := &fakeRunner{}
	results := make(chan error, 10)
	q := NewQueue(r, 20*time.Millisecond, WithResultFunc(func(_ *Summary, err error) { results <- err }))

	for i := 0; i < 5; i++ {
		q.Notify()
	}
	waitResults(t, results, 1)
	q.Close()

	assert.Equal(t, int32(1), r.calls.Load())
}

func TestQueue_CloseCancelsPass(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), started: make(chan struct{})}
	q := NewQueue(r, time.Millisecond)

	q.Trigger()
	<-r.started
	q.Trigger()
	q.Close()

	// the pending follow-up is dropped once closed
	assert.Equal(t, int32(1), r.calls.Load())
	q.Notify()
	q.Trigger()
	assert.Equal(t, int32(1), r.calls.Load())
}
