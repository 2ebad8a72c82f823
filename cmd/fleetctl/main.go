// Command fleetctl is a thin client for fleetforged's AdminAPI: submit a
// job, check its status, and list pools. Explicitly out of spec.md's core
// scope (SPEC_FULL.md S1) but carried the way the teacher repo carries
// cmd/warren's apply/service/node subcommands over pkg/client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/fleetclient"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"

	serverAddr string
	clientID   string
	joinToken  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "fleetforge client CLI",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:7070", "fleetforged AdminAPI address")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", defaultClientID(), "identity to enroll under")
	rootCmd.PersistentFlags().StringVar(&joinToken, "token", "", "join token to present during enrollment (only needed the first time this client-id connects)")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(applyCmd)
}

func defaultClientID() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "fleetctl"
}

// dial connects to the AdminAPI, reusing this client-id's cached
// certificate (see pkg/fleetclient) or enrolling with --token on first use.
// Every AdminAPI method sits behind security.CertAuthority's auth
// interceptor, so a plain insecure dial would be rejected Unauthenticated.
func dial(ctx context.Context) (*fleetclient.Client, error) {
	return fleetclient.Dial(ctx, serverAddr, clientID, joinToken)
}

var submitCmd = &cobra.Command{
	Use:   "submit <job-id>",
	Short: "Submit a job to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		commandStr, _ := cmd.Flags().GetString("command")
		priority, _ := cmd.Flags().GetInt32("priority")
		maxRetries, _ := cmd.Flags().GetInt32("max-retries")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		req := &proto.SubmitJobRequest{
			ID:         args[0],
			Name:       name,
			Priority:   priority,
			MaxRetries: maxRetries,
		}
		if commandStr != "" {
			req.Command = strings.Fields(commandStr)
		}

		resp, err := c.SubmitJob(ctx, req)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		if !resp.Accepted {
			return fmt.Errorf("job rejected: %s", resp.Reason)
		}
		fmt.Printf("✓ Job submitted: %s (queue size: %d)\n", args[0], resp.QueueSize)
		return nil
	},
}

func init() {
	submitCmd.Flags().String("name", "", "human-readable job name")
	submitCmd.Flags().String("command", "", "shell command to run, e.g. \"echo hello\"")
	submitCmd.Flags().Int32("priority", 1, "job priority (0=low, 1=normal, 2=high, 3=critical)")
	submitCmd.Flags().Int32("max-retries", 0, "maximum retry attempts (0 uses the daemon default)")
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect submitted jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		fmt.Printf("%-20s %-20s %-12s %s\n", "ID", "NAME", "STATUS", "CREATED")
		fmt.Printf("%-20s %-20s %-12s %s\n", job.ID, job.Name, job.Status, job.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobStatusCmd)
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect worker pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		pools, err := c.ListPools(ctx)
		if err != nil {
			return fmt.Errorf("list pools: %w", err)
		}
		fmt.Printf("%-20s %-16s %-12s %-8s %-8s %-8s\n", "ID", "NAME", "STATUS", "DESIRED", "READY", "BUSY")
		for _, p := range pools {
			fmt.Printf("%-20s %-16s %-12s %-8d %-8d %-8d\n", p.ID, p.Name, p.Status, p.DesiredSize, p.ReadyCount, p.BusyCount)
		}
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd)
}

// poolManifest is the YAML shape fleetctl apply accepts, grounded on
// cmd/warren's own apply.go "apiVersion/kind/metadata/spec" resource
// envelope, scoped to this domain's one applyable kind.
type poolManifest struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   manifestMeta `yaml:"metadata"`
	Spec       poolSpec     `yaml:"spec"`
}

type manifestMeta struct {
	Name string `yaml:"name"`
}

type poolSpec struct {
	Provider string            `yaml:"provider"`
	Image    string            `yaml:"image"`
	CPU      string            `yaml:"cpu"`
	Memory   string            `yaml:"memory"`
	Env      map[string]string `yaml:"env"`
	NodeSelector map[string]string `yaml:"nodeSelector"`
	Min      int32             `yaml:"min"`
	Max      int32             `yaml:"max"`
	UpThreshold   float64      `yaml:"upThreshold"`
	DownThreshold float64      `yaml:"downThreshold"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a pool manifest",
	Long: `Apply a fleetforge Pool manifest from a YAML file.

Example:
  fleetctl apply -f build-pool.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}

		var m poolManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
		if m.Kind != "Pool" {
			return fmt.Errorf("unsupported resource kind %q (fleetctl apply only supports Pool)", m.Kind)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.CreatePool(ctx, &proto.CreatePoolRequest{
			Name:          m.Metadata.Name,
			ProviderName:  m.Spec.Provider,
			Image:         m.Spec.Image,
			CPU:           m.Spec.CPU,
			Memory:        m.Spec.Memory,
			Env:           m.Spec.Env,
			NodeSelector:  m.Spec.NodeSelector,
			Min:           m.Spec.Min,
			Max:           m.Spec.Max,
			UpThreshold:   m.Spec.UpThreshold,
			DownThreshold: m.Spec.DownThreshold,
		})
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if !resp.Accepted {
			return fmt.Errorf("pool rejected: %s", resp.Reason)
		}
		fmt.Printf("✓ Pool created: %s (ID: %s)\n", m.Metadata.Name, resp.Pool.ID)
		return nil
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}
