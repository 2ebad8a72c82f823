// Command fleetforged is the orchestrator daemon: it owns the Job Queue,
// Worker Pool Manager, Worker Channel Hub, Auto-Scaler, and Orchestration
// Coordinator, and exposes the channel hub over gRPC plus a Prometheus
// metrics endpoint. Wiring order follows the teacher's cmd/warren
// `cluster init` command: embedded dependencies first, then managers, then
// background loops, then listeners, then block on a shutdown signal.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/adminapi"
	"github.com/cuemby/fleetforge/pkg/channelhub"
	"github.com/cuemby/fleetforge/pkg/config"
	"github.com/cuemby/fleetforge/pkg/coordinator"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/pool"
	"github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/provider/cluster"
	"github.com/cuemby/fleetforge/pkg/provider/containerd"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/security"
	"github.com/cuemby/fleetforge/pkg/storage"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"

	cfgPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetforged",
	Short:   "fleetforge orchestration daemon",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "directory to search for fleetforged.yaml")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	var searchPaths []string
	if cfgPath != "" {
		searchPaths = append(searchPaths, cfgPath)
	}
	cfg, err := config.Load(searchPaths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("fleetforged")

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	prov, err := openProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("open provider: %w", err)
	}

	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	q := queue.New(queue.Config{MaxSize: cfg.Queue.MaxSize, FailOnExpiry: cfg.Queue.FailOnExpiry}, nil)

	pools, err := pool.New(pool.Config{
		Providers: map[string]provider.Provider{prov.Name(): prov},
		Store:     store,
		Bus:       bus,
	})
	if err != nil {
		return fmt.Errorf("create pool manager: %w", err)
	}

	hub := channelhub.New(channelhub.Config{
		Queue:               q,
		Pools:               pools,
		Jobs:                store,
		Bus:                 bus,
		HeartbeatInterval:   cfg.Channel.HeartbeatInterval,
		CacheResponseWindow: cfg.Channel.CacheResponseWindow,
		ControlAckTimeout:   cfg.Channel.ControlAckTimeout,
	})

	coord := coordinator.New(coordinator.Config{
		Queue:           q,
		Pools:           pools,
		Hub:             hub,
		Bus:             bus,
		QueueInterval:   cfg.Scheduler.QueueInterval,
		ScalingInterval: cfg.Scheduler.ScalingInterval,
		MetricsInterval: cfg.Scheduler.MetricsInterval,
		ShutdownGrace:   cfg.Scheduler.ShutdownGrace,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go pools.RunProviderHealthChecks(ctx, cfg.Scheduler.ProviderHealthInterval)
	coord.Run(ctx)

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return fmt.Errorf("initialize certificate authority: %w", err)
	}
	tlsConfig, err := ca.ServerTLSConfig("fleetforged", nil)
	if err != nil {
		return fmt.Errorf("build server TLS config: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.Server.ChannelAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.ChannelAddr, err)
	}
	grpcServer := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc.UnaryInterceptor(ca.UnaryAuthInterceptor(proto.Enrollment_Enroll_FullMethodName)),
		grpc.StreamInterceptor(ca.StreamAuthInterceptor()),
	)
	proto.RegisterChannelHubServer(grpcServer, hub)
	proto.RegisterAdminAPIServer(grpcServer, adminapi.New(q, store, pools))
	proto.RegisterEnrollmentServer(grpcServer, security.NewEnrollmentServer(ca, cfg.Security.JoinToken))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.ChannelAddr).Msg("channel hub listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("channel hub server: %w", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics endpoint listening")
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
	}

	coord.Shutdown()
	grpcServer.GracefulStop()
	cancel()

	logger.Info().Msg("shutdown complete")
	return nil
}

// daemonStore is the combined repository fleetforged needs: both the
// channel hub (jobs) and the pool manager (pools/workers) persist through
// the same backing store.
type daemonStore interface {
	storage.JobRepository
	storage.PoolRepository
}

func openStore(cfg config.StorageConfig) (daemonStore, error) {
	switch cfg.Driver {
	case "bbolt":
		return storage.NewBoltStore(cfg.DataDir)
	default:
		return storage.NewMemoryStore(), nil
	}
}

func openProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Name {
	case "cluster":
		return cluster.New(""), nil
	default:
		socket := cfg.ContainerdSocket
		if socket == "" {
			socket = containerd.DefaultSocketPath
		}
		return containerd.New(socket)
	}
}
