// Command fleetforge-agent is a standalone smoke binary for pkg/agent: it
// enrolls with a fleetforged daemon using a join token, then serves jobs
// with the default ShellExecutor. Grounded on cmd/warren's `worker start`
// command (node-id/manager/token flags, startup banner, block until
// signaled), minus the embedded-containerd bootstrap the teacher's worker
// does for itself — this worker executes locally, it doesn't host one.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetforge/pkg/agent"
	"github.com/cuemby/fleetforge/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetforge-agent",
	Short: "fleetforge worker agent (reference implementation)",
	RunE:  runAgent,
}

func init() {
	rootCmd.Flags().String("worker-id", "", "unique worker identity (required)")
	rootCmd.Flags().String("pool-id", "", "pool this worker belongs to")
	rootCmd.Flags().String("addr", "127.0.0.1:7070", "fleetforged Channel Hub address")
	rootCmd.Flags().String("token", "", "join token to present during enrollment (required)")
	_ = rootCmd.MarkFlagRequired("worker-id")
	_ = rootCmd.MarkFlagRequired("token")
}

func runAgent(cmd *cobra.Command, args []string) error {
	workerID, _ := cmd.Flags().GetString("worker-id")
	poolID, _ := cmd.Flags().GetString("pool-id")
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("fleetforge-agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Enrolling worker %q with %s...\n", workerID, addr)
	tlsConfig, err := agent.Enroll(ctx, addr, workerID, token)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	fmt.Println("✓ Certificate issued")

	ag := agent.New(agent.Config{
		WorkerID: workerID,
		PoolID:   poolID,
		Addr:     addr,
		TLS:      tlsConfig,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- ag.Run(ctx) }()

	fmt.Printf("✓ Worker session established with %s\n", addr)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("session ended")
		}
	}

	ag.Stop()
	cancel()
	return nil
}
