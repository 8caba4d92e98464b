// Command validator runs one computor of the leaderless quorum network
// described by SPEC_FULL.md. Its command layout follows the teacher's
// cmd/synnergy/main.go: one root cobra.Command, one subcommand group per
// concern, flags bound per-command rather than through a global flag set.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"validator-node/internal/node"
	"validator-node/internal/snapshot"
	"validator-node/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "validator"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(peerCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.NodeConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(path, envFile)
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "config.yaml", "path to the node's YAML configuration file")
	cmd.Flags().String("env-file", ".env", "path to an optional .env overlay")
}

// runCmd starts the node and blocks until SIGINT/SIGTERM, running the tick
// loop against the configured cadence.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run this computor's validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			n, err := node.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("construct node: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tickInterval := time.Duration(cfg.TickDurationMS) * time.Millisecond
			go runTickLoop(ctx, n, tickInterval)

			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("node stopped: %w", err)
			}
			return n.Close(context.Background())
		},
	}
	addConfigFlags(cmd)
	return cmd
}

// runTickLoop advances the node one tick per interval until ctx is
// cancelled (§2's target cadence, overridable via tick_duration_ms for test
// harnesses that need a faster clock than the live network's 4s).
func runTickLoop(ctx context.Context, n *node.NodeState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tick := n.CurrentTick()
	for {
		select {
		case <-ticker.C:
			advanced, err := n.RunTick(tick)
			if err != nil {
				continue
			}
			if advanced {
				tick++
			}
		case <-ctx.Done():
			return
		}
	}
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot"}
	cmd.AddCommand(snapshotExportCmd())
	return cmd
}

// snapshotExportCmd builds a node from the configuration and takes one
// diagnostic dump of its digests without starting the tick loop. It does
// not attach to an already running node process.
func snapshotExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "write one diagnostic snapshot and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			n, err := node.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("construct node: %w", err)
			}
			defer n.Close(context.Background())

			writer, err := snapshot.New(n, cfg.DataDir, nil)
			if err != nil {
				return fmt.Errorf("create snapshot writer: %w", err)
			}
			rec, path, err := writer.Take()
			if err != nil {
				return fmt.Errorf("take snapshot: %w", err)
			}
			fmt.Printf("wrote %s (id=%s tick=%d)\n", path, rec.ID, rec.Tick)
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "peer"}
	cmd.AddCommand(peerListCmd())
	return cmd
}

// peerListCmd builds a node from the configuration and prints the peers it
// connected to during construction as JSON. It does not attach to an
// already running node process.
func peerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list connected peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			n, err := node.New(cfg, nil)
			if err != nil {
				return fmt.Errorf("construct node: %w", err)
			}
			defer n.Close(context.Background())

			// mDNS/seed dialing happens during node.New; give pending
			// connections a moment to complete before listing.
			time.Sleep(500 * time.Millisecond)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(n.Peers())
		},
	}
	addConfigFlags(cmd)
	return cmd
}
