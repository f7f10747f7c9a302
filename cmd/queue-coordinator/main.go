package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/queue-coordinator/clock"
	"github.com/tcriess/queue-coordinator/config"
	"github.com/tcriess/queue-coordinator/coordinator"
	"github.com/tcriess/queue-coordinator/globals"
	"github.com/tcriess/queue-coordinator/hub"
	"github.com/tcriess/queue-coordinator/monitoring"
	"github.com/tcriess/queue-coordinator/persistence"
	"github.com/tcriess/queue-coordinator/room"
	"github.com/tcriess/queue-coordinator/server"
	"github.com/tcriess/queue-coordinator/socketio"
	"github.com/tcriess/queue-coordinator/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	logger := globals.AppLogger

	policy, err := room.NewAdmissionPolicy(globalConfig.AdmissionConfig.Rule)
	if err != nil {
		logger.Error("could not compile admission rule", "rule", globalConfig.AdmissionConfig.Rule, "error", err)
		os.Exit(1)
	}
	registry, err := room.NewRegistry(room.RegistryOptions{
		Clock:      clock.Real(),
		Logger:     logger.Named("registry"),
		Tombstones: globalConfig.RegistryConfig.Tombstones,
		Policy:     policy,
	})
	if err != nil {
		logger.Error("could not create registry", "error", err)
		os.Exit(1)
	}

	persister, err := persistence.NewPersister(globalConfig.ArchiveConfig)
	if err != nil {
		logger.Error("could not open archive", "error", err)
		os.Exit(1)
	}
	var archive coordinator.Archive
	var retention *persistence.Retention
	if persister != nil {
		defer persister.Close()
		archive = persister
		if globalConfig.ArchiveConfig.Retention > 0 {
			retention, err = persistence.NewRetention(persister, globalConfig.ArchiveConfig.RetentionSchedule,
				globalConfig.ArchiveConfig.Retention, clock.Real(), logger.Named("retention"))
			if err != nil {
				logger.Error("could not schedule archive retention", "error", err)
				os.Exit(1)
			}
			retention.Start()
		}
	}

	opts := coordinator.Options{
		Registry:   registry,
		Identities: room.NewIdentityMap(),
		Hub:        hub.NewHub(logger.Named("hub")),
		Archive:    archive,
		Logger:     logger.Named("coordinator"),
	}
	var monitor *monitoring.Monitor
	if globalConfig.MetricsConfig.Enabled {
		monitor = monitoring.NewMonitor()
		opts.Observer = monitor
	}
	coord := coordinator.New(opts)

	srvOpts := server.Options{
		Addr:        globalConfig.Addr,
		Rooms:       coord,
		MetricsPath: globalConfig.MetricsConfig.Path,
		Logger:      logger.Named("http"),
	}
	if monitor != nil {
		srvOpts.Metrics = monitor.Handler()
	}
	if globalConfig.TransportConfig.Websocket {
		srvOpts.Websocket = ws.NewHandler(coord, globalConfig.TransportConfig.AllowedOrigin, logger.Named("ws"))
		srvOpts.WebsocketPath = globalConfig.TransportConfig.WebsocketPath
	}
	var sio *socketio.Server
	if globalConfig.TransportConfig.SocketIO {
		sio = socketio.NewServer(coord, globalConfig.TransportConfig.AllowedOrigin, logger.Named("socketio"))
		srvOpts.SocketIO = sio.Handler()
	}
	srv := server.New(srvOpts)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			logger.Error("stopped listening", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sio != nil {
		sio.Close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("could not shut down http server", "error", err)
	}
	if retention != nil {
		select {
		case <-retention.Stop().Done():
		case <-ctx.Done():
		}
	}
	logger.Info("stopped", "rooms", coord.Rooms())
}
