package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter serves until its context is cancelled or Stop is called.
type fakeAdapter struct {
	name    string
	port    int
	failErr error

	stopOnce sync.Once
	stopped  chan struct{}
	started  chan struct{}

	// order records stop calls across adapters, guarded by stopOrderMu.
	order *[]string
}

var stopOrderMu sync.Mutex

func newFake(name string, port int, order *[]string) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		port:    port,
		stopped: make(chan struct{}),
		started: make(chan struct{}),
		order:   order,
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	close(f.started)
	if f.failErr != nil {
		return f.failErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopped:
		return nil
	}
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stopOnce.Do(func() {
		stopOrderMu.Lock()
		if f.order != nil {
			*f.order = append(*f.order, f.name)
		}
		stopOrderMu.Unlock()
		close(f.stopped)
	})
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.name }
func (f *fakeAdapter) Port() int        { return f.port }

func serveAsync(ctx context.Context, s *DittoServer) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return done
}

func TestServeStopsAdaptersInReverseOrder(t *testing.T) {
	var order []string
	s := New(time.Second)
	a := newFake("naming-service", 6000, &order)
	b := newFake("naming-registration", 6001, &order)
	require.NoError(t, s.AddAdapter(a))
	require.NoError(t, s.AddAdapter(b))

	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, s)

	<-a.started
	<-b.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	stopOrderMu.Lock()
	defer stopOrderMu.Unlock()
	assert.Equal(t, []string{"naming-registration", "naming-service"}, order)
}

func TestServeStopsAllWhenOneFails(t *testing.T) {
	s := New(time.Second)
	healthy := newFake("storage-data", 7000, nil)
	failing := newFake("storage-command", 7001, nil)
	failing.failErr = errors.New("address already in use")

	require.NoError(t, s.AddAdapter(healthy))
	require.NoError(t, s.AddAdapter(failing))

	select {
	case err := <-serveAsync(context.Background(), s):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage-command adapter error")
		assert.Contains(t, err.Error(), "address already in use")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after an adapter failed")
	}

	select {
	case <-healthy.stopped:
	default:
		t.Fatal("healthy adapter was not stopped")
	}
}

func TestAddAdapterConflicts(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddAdapter(newFake("storage-data", 7000, nil)))

	err := s.AddAdapter(newFake("storage-data", 7002, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = s.AddAdapter(newFake("storage-command", 7000, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 7000 already in use")

	// OS-chosen ports never conflict.
	require.NoError(t, s.AddAdapter(newFake("a", 0, nil)))
	require.NoError(t, s.AddAdapter(newFake("b", 0, nil)))

	assert.Len(t, s.Adapters(), 3)
	assert.Panics(t, func() { _ = s.AddAdapter(nil) })
}

func TestServeOnce(t *testing.T) {
	s := New(time.Second)
	assert.ErrorContains(t, s.Serve(context.Background()), "no adapters registered")
	assert.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyServed)
	assert.ErrorIs(t, s.AddAdapter(newFake("late", 1, nil)), ErrAlreadyServed)
}

func TestMetricsServerRunsAsAdapter(t *testing.T) {
	s := New(time.Second)
	require.NoError(t, s.AddMetricsServer(nil))
	assert.Empty(t, s.Adapters())

	m := metrics.NewServer(metrics.ServerConfig{Port: 19090, Component: "naming"})
	require.NoError(t, s.AddMetricsServer(m))

	adapters := s.Adapters()
	require.Len(t, adapters, 1)
	assert.Equal(t, "metrics", adapters[0].Protocol())
	assert.Equal(t, 19090, adapters[0].Port())
}
