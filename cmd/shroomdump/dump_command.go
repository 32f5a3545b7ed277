package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"shroomdump/internal/batch"
	"shroomdump/internal/config"
	"shroomdump/internal/ledger"
	"shroomdump/internal/pipeline"
)

type dumpFlags struct {
	originsURL  string
	standardURL string
	downloadDir string
	outputDir   string
	mode        string
	jsonOutput  bool
}

func newDumpCommand(ctx *commandContext) *cobra.Command {
	var flags dumpFlags

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Download, extract and repackage game assets",
		Long: `Run the asset dump.

The origins mode downloads the Shockwave client, extracts every .dcr and .cct
container with the decoder and writes one bundle per asset. The standard mode
downloads the gamedata documents and packs them into gamedata.bundle. Modes
with no external variables URL are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCfg, err := applyDumpFlags(cfg, flags)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			opts := []pipeline.Option{}
			store, err := ctx.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				opts = append(opts, pipeline.WithRecorder(store))
			}

			p, err := pipeline.New(runCfg, logger, opts...)
			if err != nil {
				return err
			}

			runOpts := pipeline.RunOptions{
				OriginsURL:  runCfg.Origins.ExternalVariablesURL,
				StandardURL: runCfg.Standard.ExternalVariablesURL,
			}
			if !flags.jsonOutput && isTerminal(cmd.ErrOrStderr()) {
				line := newProgressLine(cmd.ErrOrStderr())
				runOpts.OnProgress = line.update
				defer line.finish()
			}

			summary, runErr := p.Run(cmd.Context(), runOpts)
			if summary == nil {
				return runErr
			}
			if flags.jsonOutput {
				if err := writeJSON(cmd, summaryJSON(summary, runErr)); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if runErr != nil {
				return runErr
			}
			if summary.Status(nil) == ledger.RunFailed {
				return fmt.Errorf("dump produced no output: %w", summary.Err())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.originsURL, "origins-url", "", "Origins external variables URL (overrides origins.external_variables_url)")
	cmd.Flags().StringVar(&flags.standardURL, "url", "", "Standard external variables URL (overrides standard.external_variables_url)")
	cmd.Flags().StringVar(&flags.downloadDir, "download-dir", "", "Directory for downloads and the unpacked client")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Directory for generated bundles")
	cmd.Flags().StringVar(&flags.mode, "mode", "all", "Modes to run: all, origins or standard")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

// applyDumpFlags returns a copy of cfg with the command line overrides applied.
func applyDumpFlags(cfg *config.Config, flags dumpFlags) (*config.Config, error) {
	runCfg := *cfg
	if v := strings.TrimSpace(flags.originsURL); v != "" {
		runCfg.Origins.ExternalVariablesURL = v
	}
	if v := strings.TrimSpace(flags.standardURL); v != "" {
		runCfg.Standard.ExternalVariablesURL = v
	}
	if v := strings.TrimSpace(flags.downloadDir); v != "" {
		expanded, err := config.ExpandPath(v)
		if err != nil {
			return nil, fmt.Errorf("resolve download dir: %w", err)
		}
		runCfg.Paths.DownloadDir = expanded
	}
	if v := strings.TrimSpace(flags.outputDir); v != "" {
		expanded, err := config.ExpandPath(v)
		if err != nil {
			return nil, fmt.Errorf("resolve output dir: %w", err)
		}
		runCfg.Paths.OutputDir = expanded
	}

	switch strings.ToLower(strings.TrimSpace(flags.mode)) {
	case "", "all":
	case string(pipeline.ModeOrigins):
		runCfg.Standard.ExternalVariablesURL = ""
	case string(pipeline.ModeStandard):
		runCfg.Origins.ExternalVariablesURL = ""
	default:
		return nil, fmt.Errorf("invalid --mode %q (want all, origins or standard)", flags.mode)
	}
	if runCfg.Origins.ExternalVariablesURL == "" && runCfg.Standard.ExternalVariablesURL == "" {
		return nil, fmt.Errorf("no external variables URL for the selected mode %q", flags.mode)
	}
	return &runCfg, nil
}

// progressLine redraws a single status line on a terminal.
type progressLine struct {
	mu    sync.Mutex
	out   io.Writer
	width int
}

func newProgressLine(out io.Writer) *progressLine {
	return &progressLine{out: out}
}

func (l *progressLine) update(p batch.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	text := fmt.Sprintf("%s: %d / %d (%d%%)", p.Label, p.Loaded, p.Total, p.Percent)
	pad := ""
	if l.width > len(text) {
		pad = strings.Repeat(" ", l.width-len(text))
	}
	fmt.Fprintf(l.out, "\r%s%s", text, pad)
	l.width = len(text)
	if p.Loaded >= p.Total {
		fmt.Fprintln(l.out)
		l.width = 0
	}
}

func (l *progressLine) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.width > 0 {
		fmt.Fprintln(l.out)
		l.width = 0
	}
}

var kindTitle = cases.Title(language.Und)

func printSummary(out io.Writer, summary *pipeline.Summary) {
	rows := make([][]string, 0, len(summary.Modes))
	for _, ms := range summary.Modes {
		status := "ok"
		if ms.Err != nil {
			status = ms.Err.Error()
		}
		rows = append(rows, []string{
			kindTitle.String(string(ms.Mode)),
			strconv.Itoa(len(ms.Succeeded)),
			strconv.Itoa(len(ms.Failed)),
			ms.Duration.Round(time.Millisecond).String(),
			status,
		})
	}
	fmt.Fprintln(out, tableView{
		title:   "Run " + summary.RunID,
		headers: []string{"Mode", "Succeeded", "Failed", "Duration", "Status"},
		aligns:  []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
		rows:    rows,
		footer: []string{
			"Total",
			strconv.Itoa(summary.Succeeded()),
			strconv.Itoa(summary.Failed()),
			summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond).String(),
			string(summary.Status(nil)),
		},
	}.render())

	if counts := bundleCounts(summary); len(counts) > 0 {
		kinds := make([]string, 0, len(counts))
		for kind := range counts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, fmt.Sprintf("%s %d", kindTitle.String(kind), counts[kind]))
		}
		fmt.Fprintf(out, "Bundles: %s\n", strings.Join(parts, ", "))
	}

	for _, ms := range summary.Modes {
		for _, item := range ms.Failed {
			fmt.Fprintf(out, "  failed %s %s: %v\n", ms.Mode, item.Name, item.Err)
		}
	}
}

func bundleCounts(summary *pipeline.Summary) map[string]int {
	counts := map[string]int{}
	seen := map[string]struct{}{}
	for _, ms := range summary.Modes {
		for _, item := range ms.Succeeded {
			if _, ok := seen[item.Output]; ok || item.Output == "" {
				continue
			}
			seen[item.Output] = struct{}{}
			counts[item.Kind]++
		}
	}
	return counts
}

type itemJSON struct {
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty"`
	Container string `json:"container,omitempty"`
	Source    string `json:"source,omitempty"`
	Output    string `json:"output,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Entries   int    `json:"entries,omitempty"`
	Error     string `json:"error,omitempty"`
}

type modeJSON struct {
	Mode       string     `json:"mode"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Succeeded  []itemJSON `json:"succeeded"`
	Failed     []itemJSON `json:"failed"`
}

type runJSON struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
	Modes      []modeJSON `json:"modes"`
}

func summaryJSON(summary *pipeline.Summary, fatal error) runJSON {
	out := runJSON{
		RunID:      summary.RunID,
		Status:     string(summary.Status(fatal)),
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Modes:      make([]modeJSON, 0, len(summary.Modes)),
	}
	if fatal != nil {
		out.Error = fatal.Error()
	}
	convert := func(items []pipeline.Item) []itemJSON {
		converted := make([]itemJSON, 0, len(items))
		for _, item := range items {
			entry := itemJSON{
				Name:      item.Name,
				Kind:      item.Kind,
				Container: item.Container,
				Source:    item.Source,
				Output:    item.Output,
				Digest:    item.Digest,
				Size:      item.Size,
				Entries:   item.Entries,
			}
			if item.Err != nil {
				entry.Error = item.Err.Error()
			}
			converted = append(converted, entry)
		}
		return converted
	}
	for _, ms := range summary.Modes {
		mode := modeJSON{
			Mode:       string(ms.Mode),
			DurationMS: ms.Duration.Milliseconds(),
			Succeeded:  convert(ms.Succeeded),
			Failed:     convert(ms.Failed),
		}
		if ms.Err != nil {
			mode.Error = ms.Err.Error()
		}
		out.Modes = append(out.Modes, mode)
	}
	return out
}
