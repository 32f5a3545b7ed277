package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"shroomdump/internal/clientcache"
	"shroomdump/internal/pipeline"
)

func newClientsCommand(ctx *commandContext) *cobra.Command {
	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "List unpacked Origins clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			clients, err := clientcache.List(cfg.Paths.DownloadDir)
			if err != nil {
				return err
			}
			if len(clients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unpacked clients")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(clients))
			for _, client := range clients {
				rows = append(rows, []string{
					client.Version,
					humanize.RelTime(client.ModTime, now, "ago", "from now"),
					humanize.IBytes(uint64(client.Size)),
					client.Path,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Version", "Unpacked", "Size", "Path"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	clientsCmd.AddCommand(newClientsPruneCommand(ctx))
	return clientsCmd
}

func newClientsPruneCommand(ctx *commandContext) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove older clients and leftover archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			lock, err := pipeline.AcquireRunLock(cfg.Paths.DownloadDir)
			if err != nil {
				return err
			}
			defer lock.Release(logger)

			result := clientcache.Prune(cmd.Context(), cfg.Paths.DownloadDir, keep, logger)
			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			if len(result.Removed) == 0 {
				fmt.Fprintln(out, "Nothing to prune")
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("failed to remove %d path(s), first: %s: %w", len(result.Errors), result.Errors[0].Path, result.Errors[0].Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 1, "Number of newest clients to keep")
	return cmd
}
