package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shroomdump/internal/extvars"
	"shroomdump/internal/fetch"
)

func newVarsCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		prefix     string
	)

	cmd := &cobra.Command{
		Use:   "vars [url]",
		Short: "Fetch and resolve an external variables document",
		Long: `Fetch an external variables document and print every key with its
resolved value. Without a URL the origins URL from the config is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			url := cfg.Origins.ExternalVariablesURL
			if len(args) == 1 {
				url = strings.TrimSpace(args[0])
			}
			if url == "" {
				url = cfg.Standard.ExternalVariablesURL
			}
			if url == "" {
				return fmt.Errorf("no external variables URL given or configured")
			}

			client := fetch.NewFromConfig(cfg, logger)
			text, err := client.Text(cmd.Context(), url)
			if err != nil {
				return err
			}
			set := extvars.Resolve(extvars.Parse(text))
			unresolved := map[string]struct{}{}
			for _, key := range extvars.Unresolved(set) {
				unresolved[key] = struct{}{}
			}

			if prefix != "" {
				groups := extvars.ExtractGroups(set, prefix)
				if jsonOutput {
					return writeJSON(cmd, groups)
				}
				rows := make([][]string, 0, len(groups))
				for _, group := range groups {
					rows = append(rows, []string{group.Index, group.Value})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Index", "Value"}, rows, nil))
				return nil
			}

			if jsonOutput {
				return writeJSON(cmd, set.Map())
			}
			rows := make([][]string, 0, set.Len())
			for _, key := range set.Keys() {
				_, open := unresolved[key]
				rows = append(rows, []string{key, set.Value(key), yesNo(!open)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Resolved"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&prefix, "group", "", "Show numbered groups under a key prefix (e.g. cast.entry.)")
	return cmd
}
