package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"shroomdump/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		runID      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previous dump runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if store == nil {
				return errLedgerDisabled
			}
			defer store.Close()

			if id := strings.TrimSpace(runID); id != "" {
				assets, err := store.ListAssets(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, assets)
				}
				if len(assets) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No assets recorded for run %s\n", id)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAssets(assets))
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "Show the assets of one run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderRuns(runs []ledger.Run, now time.Time) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			run.ID,
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			string(run.Status),
			run.Modes,
			strconv.Itoa(run.Succeeded),
			strconv.Itoa(run.Failed),
			duration,
		})
	}
	return renderTable(
		[]string{"Run", "Started", "Status", "Modes", "Succeeded", "Failed", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func renderAssets(assets []ledger.Asset) string {
	rows := make([][]string, 0, len(assets))
	for _, asset := range assets {
		detail := asset.BundlePath
		if asset.Status == ledger.AssetFailed {
			detail = asset.Error
		}
		rows = append(rows, []string{
			asset.Mode,
			asset.Kind,
			asset.BaseName,
			string(asset.Status),
			humanize.IBytes(uint64(asset.SizeBytes)),
			detail,
		})
	}
	return renderTable(
		[]string{"Mode", "Kind", "Asset", "Status", "Size", "Bundle / Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
