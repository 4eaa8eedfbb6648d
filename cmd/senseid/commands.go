package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hothotzd123/sensei/config"
	"github.com/hothotzd123/sensei/server"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "senseid",
		Short:         "Sensei index node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "sensei.yaml", "path to the node configuration")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the node and serve the admin API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serveNode(cmd.Context(), cfg)
		},
	}

	check := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			parts := make([]string, len(cfg.Node.Partitions))
			for i, p := range cfg.Node.Partitions {
				parts[i] = fmt.Sprint(p)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "node:       %d\n", cfg.Node.ID)
			fmt.Fprintf(out, "partitions: %s\n", strings.Join(parts, ","))
			fmt.Fprintf(out, "flavor:     %s\n", cfg.Index.Flavor)
			fmt.Fprintf(out, "storage:    %s\n", cfg.Storage.Backend)
			fmt.Fprintf(out, "source:     %s\n", cfg.Source.Kind)
			fmt.Fprintf(out, "pruner:     %s\n", cfg.Pruner.Kind)
			fmt.Fprintf(out, "listen:     %s\n", cfg.Server.Listen)
			return nil
		},
	}

	root.AddCommand(serve, check)
	return root
}

func serveNode(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	n.Logger.Info("starting node", "node", cfg.Node.ID, "partitions", cfg.Node.Partitions, "flavor", cfg.Index.Flavor)
	if err := n.Run(ctx); err != nil {
		return err
	}
	n.Logger.Info("node stopped")
	return nil
}
