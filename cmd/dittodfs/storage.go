package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/marmos91/dittodfs/internal/logger"
	namingproto "github.com/marmos91/dittodfs/internal/protocol/naming"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	storageproto "github.com/marmos91/dittodfs/internal/protocol/storage"
	rpcadapter "github.com/marmos91/dittodfs/pkg/adapter/rpc"
	"github.com/marmos91/dittodfs/pkg/config"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/server"
	"github.com/marmos91/dittodfs/pkg/storage"
	"github.com/marmos91/dittodfs/pkg/storage/node"
)

func runStorage(args []string) error {
	fs := flag.NewFlagSet("storage", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := fs.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	namingAddr := fs.String("naming", "", "Registration address of the naming coordinator (host:port)")
	hostname := fs.String("hostname", "", "Address other processes use to reach this node")
	dataPort := fs.Int("data-port", 0, "Data port override")
	commandPort := fs.Int("command-port", 0, "Command port override")
	contentPath := fs.String("content-path", "", "Use a filesystem content store rooted here")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, func(c *config.Config) {
		if *logLevel != "" {
			c.Logging.Level = *logLevel
		}
		if *namingAddr != "" {
			c.Storage.NamingAddress = *namingAddr
		}
		if *hostname != "" {
			c.Storage.Hostname = *hostname
		}
		if *dataPort != 0 {
			c.Storage.Data.Port = *dataPort
		}
		if *commandPort != 0 {
			c.Storage.Command.Port = *commandPort
		}
		if *contentPath != "" {
			c.Storage.Content.Type = "filesystem"
			c.Storage.Content.Filesystem = map[string]any{"path": *contentPath}
		}
	})
	if err != nil {
		return err
	}

	logFile, err := setupLogging(cfg.Logging, "storage")
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	logger.Info("DittoDFS storage node %s starting", version)

	metricsResult := config.InitializeMetrics(cfg, "storage")

	ctx, stop := signalContext()
	defer stop()

	store, err := config.CreateContentStore(ctx, &cfg.Storage.Content)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close content store: %v", err)
		}
	}()

	pool := rpc.NewPool(cfg.Storage.DialTimeout)
	defer func() { _ = pool.Close() }()

	id := uuid.New()
	n := node.New(node.Config{
		CopyChunkSize: cfg.Storage.CopyChunkSize,
		ID:            id,
	}, store, storageproto.NewDialer(pool), metrics.NewStorageMetrics(id.String()))

	rpcAdapters := config.CreateStorageAdapters(cfg, n)

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, a := range config.Adapters(rpcAdapters) {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	if err := srv.AddMetricsServer(metricsResult.Server); err != nil {
		return err
	}

	// Registration needs both endpoints reachable, so it runs once they
	// listen. A failed registration stops the whole process.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		if err := register(ctx, cfg, pool, n, rpcAdapters[0], rpcAdapters[1]); err != nil {
			logger.Error("Storage node %s: %v", id, err)
			cancel(err)
		}
	}()

	err = srv.Serve(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return shutdownResult(err)
}

// register waits for the data and command adapters to listen, then
// registers the node with the naming coordinator.
func register(ctx context.Context, cfg *config.Config, pool *rpc.Pool, n *node.Node, data, command *rpcadapter.RPCAdapter) error {
	for _, a := range []*rpcadapter.RPCAdapter{data, command} {
		select {
		case <-a.Listening():
		case <-ctx.Done():
			return nil
		}
	}

	dataHandle := storage.DataHandle{Addr: advertised(cfg.Storage.Hostname, data.Port())}
	commandHandle := storage.CommandHandle{Addr: advertised(cfg.Storage.Hostname, command.Port())}

	registration := namingproto.NewRegistrationClient(pool, cfg.Storage.NamingAddress)
	if err := n.Start(ctx, registration, dataHandle, commandHandle); err != nil {
		return fmt.Errorf("failed to join naming coordinator at %s: %w", cfg.Storage.NamingAddress, err)
	}
	return nil
}

func advertised(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
