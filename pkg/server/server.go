// Package server runs the endpoints of one DittoDFS process (the two RPC
// adapters of a naming coordinator or of a storage node, plus the optional
// metrics HTTP server) and shuts them down together.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/pkg/adapter"
	"github.com/marmos91/dittodfs/pkg/metrics"
)

// DefaultStopTimeout bounds the shutdown of all adapters.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by Serve and AddAdapter once Serve has been called.
var ErrAlreadyServed = errors.New("server: Serve already called")

// DittoServer manages the lifecycle of the adapters of one process.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for each endpoint
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation or the failure of any adapter stops
//     every adapter in reverse registration order
//
// DittoServer is safe for concurrent use.
type DittoServer struct {
	stopTimeout time.Duration

	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   atomic.Bool
}

// New creates a server. stopTimeout bounds the Stop calls issued at shutdown;
// 0 means DefaultStopTimeout.
func New(stopTimeout time.Duration) *DittoServer {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &DittoServer{
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 3),
	}
}

// AddAdapter registers an adapter to start with Serve.
//
// Two adapters may not share a name, nor a fixed port. Port 0 (chosen by
// the OS at listen time) never conflicts.
//
// Panics if a is nil.
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		return ErrAlreadyServed
	}

	name := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == name {
			return fmt.Errorf("adapter %s already registered", name)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)

	logger.Debug("Registered %s adapter on port %d", name, port)

	return nil
}

// AddMetricsServer registers the Prometheus HTTP server as one more adapter.
// A nil server (metrics disabled) is ignored.
func (s *DittoServer) AddMetricsServer(m *metrics.Server) error {
	if m == nil {
		return nil
	}
	return s.AddAdapter(metricsAdapter{m})
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - the first adapter error, wrapped with the adapter name, otherwise
//   - ErrAlreadyServed on a second call
func (s *DittoServer) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	adapters := s.Adapters()
	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting %d adapter(s)", len(adapters))

	// Buffered so that failing adapters never block after Serve has moved on.
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			name := a.Protocol()
			logger.Info("Starting %s adapter on port %d", name, a.Port())

			err := a.Serve(ctx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil:
				logger.Error("%s adapter failed: %v", name, err)
				errChan <- adapterError{name: name, err: err}
			case ctx.Err() == nil:
				// Returned on its own without an error: nothing left to serve.
				errChan <- adapterError{name: name, err: errors.New("stopped unexpectedly")}
			default:
				logger.Debug("%s adapter stopped", name)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - stopping all adapters", adapterErr.name, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.name, adapterErr.err)
	}

	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("All adapters stopped")

	return shutdownErr
}

// adapterError pairs an adapter name with its error.
type adapterError struct {
	name string
	err  error
}

// stopAllAdapters stops adapters in reverse registration order, bounded by
// the stop timeout. Errors are logged and do not stop the sequence.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		name := adp.Protocol()

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", name, err)
		} else {
			logger.Debug("%s adapter stop signal sent", name)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// metricsAdapter lets the metrics HTTP server run under DittoServer.
type metricsAdapter struct {
	*metrics.Server
}

func (m metricsAdapter) Serve(ctx context.Context) error { return m.Start(ctx) }

func (m metricsAdapter) Protocol() string { return "metrics" }
