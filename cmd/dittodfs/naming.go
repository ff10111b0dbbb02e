package main

import (
	"flag"

	"github.com/marmos91/dittodfs/internal/logger"
	"github.com/marmos91/dittodfs/internal/protocol/rpc"
	storageproto "github.com/marmos91/dittodfs/internal/protocol/storage"
	"github.com/marmos91/dittodfs/pkg/config"
	"github.com/marmos91/dittodfs/pkg/metrics"
	"github.com/marmos91/dittodfs/pkg/naming"
	"github.com/marmos91/dittodfs/pkg/server"
)

func runNaming(args []string) error {
	fs := flag.NewFlagSet("naming", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := fs.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	servicePort := fs.Int("service-port", 0, "Service port override")
	registrationPort := fs.Int("registration-port", 0, "Registration port override")
	threshold := fs.Int("replication-threshold", 0, "Replication threshold override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, func(c *config.Config) {
		if *logLevel != "" {
			c.Logging.Level = *logLevel
		}
		if *servicePort != 0 {
			c.Naming.Service.Port = *servicePort
		}
		if *registrationPort != 0 {
			c.Naming.Registration.Port = *registrationPort
		}
		if *threshold != 0 {
			c.Naming.ReplicationThreshold = *threshold
		}
	})
	if err != nil {
		return err
	}

	logFile, err := setupLogging(cfg.Logging, "naming")
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	logger.Info("DittoDFS naming coordinator %s starting", version)

	metricsResult := config.InitializeMetrics(cfg, "naming")

	pool := rpc.NewPool(cfg.Naming.DialTimeout)
	defer func() { _ = pool.Close() }()

	coordinator := naming.New(naming.Config{
		ReplicationThreshold: cfg.Naming.ReplicationThreshold,
		LockTimeout:          cfg.Naming.LockTimeout,
	}, storageproto.NewDialer(pool), metrics.NewNamingMetrics())

	logger.Info("Replication threshold: %d, lock timeout: %v",
		cfg.Naming.ReplicationThreshold, cfg.Naming.LockTimeout)

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, a := range config.Adapters(config.CreateNamingAdapters(cfg, coordinator)) {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	if err := srv.AddMetricsServer(metricsResult.Server); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	return shutdownResult(srv.Serve(ctx))
}
