// Package rpc serves ONC-RPC programs over TCP.
//
// An RPCAdapter owns one listener and dispatches every call it receives to
// the matching rpc.Program. It is used for all four endpoints of the file
// service: the naming coordinator's service and registration ports and the
// storage node's data and command ports.
package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	"github.com/marmos91/dittodfs/internal/ratelimiter"
	"github.com/marmos91/dittodfs/pkg/metrics"
)

// RPCAdapter implements the adapter.Adapter interface for one TCP port.
//
// Architecture:
// RPCAdapter manages the TCP listener and connection lifecycle. Each accepted
// connection gets an RPCConnection that reads records in a loop and runs
// every call in its own goroutine, so a call blocked in a lock queue does
// not stall later calls multiplexed on the same connection.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (in-flight calls such as lock waits abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// to ensure idempotent behavior even if Stop() is called multiple times.
type RPCAdapter struct {
	config   RPCConfig
	programs map[uint32]*rpc.Program

	// listener is closed during shutdown to stop accepting new connections
	listener net.Listener

	// listening is closed once the listener is bound
	listening chan struct{}

	metrics metrics.RPCMetrics
	limiter *ratelimiter.Keyed

	// activeConns tracks all currently active connections for graceful shutdown
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCount tracks the current number of active connections
	connCount atomic.Int32

	// connSemaphore limits concurrent connections; nil if unlimited
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight calls
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure
	activeConnections sync.Map

	// boundPort is the port actually bound, which differs from the
	// configured one when Port is 0
	boundPort atomic.Int32
}

// RPCConfig holds configuration parameters for an RPC endpoint.
//
// Default values (applied by New if zero):
//   - Name: "rpc"
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type RPCConfig struct {
	// Name identifies the endpoint in logs and metrics.
	Name string `mapstructure:"-" yaml:"-"`

	// Host is the interface to bind. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port. 0 lets the OS choose, which is only useful in
	// tests; see Port().
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading the remainder of a record once its header
	// has arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// IdleTimeout closes a connection with no call in flight and no new
	// record for this long. Calls waiting on a lock keep the connection open.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the interval at which to log connection counts.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`

	// RateLimit throttles calls. Rejected calls get a SYSTEM_ERR reply.
	RateLimit ratelimiter.Limits `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *RPCConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "rpc"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks that the configuration is usable.
func (c *RPCConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates an RPCAdapter serving programs.
//
// Parameters:
//   - config: endpoint configuration (zero values replaced with defaults)
//   - programs: dispatch tables, keyed by program number on the wire
//   - rpcMetrics: optional metrics collector (nil for no metrics)
//
// Panics if config validation fails or no program is given.
func New(config RPCConfig, programs []*rpc.Program, rpcMetrics metrics.RPCMetrics) *RPCAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid RPC config for %s: %v", config.Name, err))
	}
	if len(programs) == 0 {
		panic(fmt.Sprintf("RPC adapter %s has no programs", config.Name))
	}

	table := make(map[uint32]*rpc.Program, len(programs))
	for _, p := range programs {
		table[p.Number] = p
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("%s connection limit: %d", config.Name, config.MaxConnections)
	}

	var limiter *ratelimiter.Keyed
	if config.RateLimit.Enabled() {
		limiter = ratelimiter.NewKeyed(config.RateLimit)
		logger.Debug("%s rate limit: %d req/s global, %d req/s per client",
			config.Name, config.RateLimit.RequestsPerSecond, config.RateLimit.PerClientRequestsPerSecond)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if rpcMetrics == nil {
		rpcMetrics = metrics.NewNoopRPCMetrics()
	}

	return &RPCAdapter{
		config:         config,
		programs:       table,
		listening:      make(chan struct{}),
		metrics:        rpcMetrics,
		limiter:        limiter,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Serve binds the listener and accepts connections until ctx is cancelled
// or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or shutdown is not graceful
func (s *RPCAdapter) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", s.config.Name, addr, err)
	}

	s.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.boundPort.Store(int32(tcpAddr.Port))
	}
	close(s.listening)

	logger.Info("%s listening on %s", s.config.Name, listener.Addr())
	logger.Debug("%s config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		s.config.Name, s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.config.Name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}
	if s.limiter != nil {
		go s.evictIdleClients(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting %s connection: %v", s.config.Name, err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("%s connection accepted from %s (active: %d)",
			s.config.Name, connAddr, currentConns)

		conn := NewRPCConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("%s connection closed from %s (active: %d)",
					s.config.Name, addr, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown closes the listener and cancels in-flight calls.
// Safe to call multiple times.
func (s *RPCAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.config.Name)

		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing %s listener: %v", s.config.Name, err)
			}
		}

		s.cancelRequests()

		// Wake connections blocked reading the next record. In-flight calls
		// still get to write their replies.
		now := time.Now()
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(now)
			return true
		})
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout and
// force-closes the rest.
func (s *RPCAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.config.Name, activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.connectionsDone():
		logger.Info("%s graceful shutdown complete", s.config.Name)
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			s.config.Name, remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.config.Name, remaining)
	}
}

func (s *RPCAdapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes all tracked TCP connections so blocked reads
// and writes fail immediately.
func (s *RPCAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("%s force-closed %d connection(s)", s.config.Name, closedCount)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done.
func (s *RPCAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.connectionsDone():
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown context cancelled: %d connection(s) still active: %v",
			s.config.Name, remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count.
func (s *RPCAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", s.config.Name, s.connCount.Load())
		}
	}
}

// evictIdleClients drops per-client rate limit buckets of departed clients.
func (s *RPCAdapter) evictIdleClients(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if n := s.limiter.Evict(); n > 0 {
				logger.Debug("%s evicted %d idle rate limit bucket(s)", s.config.Name, n)
			}
		}
	}
}

// allow applies the rate limit to a call from clientAddr.
func (s *RPCAdapter) allow(clientAddr string) bool {
	if s.limiter == nil {
		return true
	}

	host, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		host = clientAddr
	}
	return s.limiter.Allow(host)
}

// GetActiveConnections returns the current number of active connections.
func (s *RPCAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Listening returns a channel closed once the listener is bound.
func (s *RPCAdapter) Listening() <-chan struct{} {
	return s.listening
}

// Port returns the bound port once listening, the configured port before.
func (s *RPCAdapter) Port() int {
	if p := s.boundPort.Load(); p != 0 {
		return int(p)
	}
	return s.config.Port
}

// Protocol returns the endpoint name.
func (s *RPCAdapter) Protocol() string {
	return s.config.Name
}
