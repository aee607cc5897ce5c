package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Inspects and manages the configured container endpoints.",
}

var endpointPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Pings every configured endpoint and reports its health.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}
		ctx := context.Background()
		failed := 0
		for _, ep := range butido.Pool.All() {
			if err := ep.Ping(ctx); err != nil {
				butido.UI.Error("%s: %v\n", ep.Name(), err)
				failed++
				continue
			}
			butido.UI.Success("%s: ok\n", ep.Name())
		}
		if failed > 0 {
			return fmt.Errorf("endpoint ping: %d endpoint(s) unreachable", failed)
		}
		return nil
	},
}

var endpointStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints container/image counts and in-flight job counts per endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}
		ctx := context.Background()
		csv, _ := cmd.Flags().GetBool("csv")
		for _, ep := range butido.Pool.All() {
			stats, err := ep.Stats(ctx)
			if err != nil {
				return fmt.Errorf("endpoint stats: %s: %w", ep.Name(), err)
			}
			if csv {
				fmt.Fprintf(cmd.OutOrStdout(), "%s,%d,%d,%d\n", stats.Name, stats.Containers, stats.Images, ep.InFlight())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s containers=%-4d images=%-4d in-flight=%d\n", stats.Name, stats.Containers, stats.Images, ep.InFlight())
			}
		}
		return nil
	},
}

var endpointContainersCmd = &cobra.Command{
	Use:   "containers",
	Short: "Lists or prunes containers on every endpoint.",
}

var endpointContainersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every container on every endpoint, including stopped ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}
		ctx := context.Background()
		for _, ep := range butido.Pool.All() {
			containers, err := ep.ContainerStats(ctx, true)
			if err != nil {
				return fmt.Errorf("endpoint containers list: %s: %w", ep.Name(), err)
			}
			for _, c := range containers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", ep.Name(), c.ID[:12], c.Image, c.State)
			}
		}
		return nil
	},
}

var endpointContainersPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Removes every stopped container on every endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireButido(); err != nil {
			return err
		}
		ctx := context.Background()
		for _, ep := range butido.Pool.All() {
			containers, err := ep.ContainerStats(ctx, true)
			if err != nil {
				return fmt.Errorf("endpoint containers prune: %s: %w", ep.Name(), err)
			}
			for _, c := range containers {
				if c.State == "running" {
					continue
				}
				if err := ep.RemoveContainer(ctx, c.ID); err != nil {
					return fmt.Errorf("endpoint containers prune: removing %s on %s: %w", c.ID[:12], ep.Name(), err)
				}
				butido.UI.Printf("removed %s on %s\n", c.ID[:12], ep.Name())
			}
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(endpointPingCmd, endpointStatsCmd, endpointContainersCmd)
	endpointContainersCmd.AddCommand(endpointContainersListCmd, endpointContainersPruneCmd)
	endpointStatsCmd.Flags().Bool("csv", false, "print comma-separated values instead of a padded table")
}
