package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"shroomdump/internal/ledger"
	"shroomdump/internal/logging"
)

// Mode names a dump mode.
type Mode string

const (
	ModeOrigins  Mode = "origins"
	ModeStandard Mode = "standard"
)

// Item is the outcome of one asset or gamedata document.
type Item struct {
	Name      string
	Kind      string
	Container string
	Source    string
	Output    string
	Digest    string
	Size      int64
	Entries   int
	Err       error
}

// ModeSummary is the outcome of one mode. Err is set when a step failed
// before all items were processed.
type ModeSummary struct {
	Mode      Mode
	Err       error
	Succeeded []Item
	Failed    []Item
	Duration  time.Duration
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Modes      []ModeSummary
}

// Succeeded counts successful items across modes.
func (s *Summary) Succeeded() int {
	n := 0
	for _, m := range s.Modes {
		n += len(m.Succeeded)
	}
	return n
}

// Failed counts failed items across modes.
func (s *Summary) Failed() int {
	n := 0
	for _, m := range s.Modes {
		n += len(m.Failed)
	}
	return n
}

// Err joins the mode-level errors.
func (s *Summary) Err() error {
	var errs []error
	for _, m := range s.Modes {
		if m.Err != nil {
			errs = append(errs, m.Err)
		}
	}
	return errors.Join(errs...)
}

// Status derives the ledger status of the run.
func (s *Summary) Status(fatal error) ledger.RunStatus {
	switch {
	case fatal != nil:
		return ledger.RunFailed
	case s.Err() == nil && s.Failed() == 0:
		return ledger.RunCompleted
	case s.Succeeded() == 0:
		return ledger.RunFailed
	default:
		return ledger.RunPartial
	}
}

func (p *Pipeline) beginRun(ctx context.Context, logger *slog.Logger, runID string, modes []string, started time.Time) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.BeginRun(ctx, runID, modes, started); err != nil {
		p.recorder = nil
		logging.WarnWithContext(logger, "run history unavailable", "ledger_begin_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not appear in `shroomdump history`"),
			logging.String(logging.FieldErrorHint, "check paths.ledger_path permissions"),
		)
	}
}

func (p *Pipeline) recordMode(ctx context.Context, runID string, ms ModeSummary) {
	if p.recorder == nil {
		return
	}
	logger := logging.WithContext(ctx, p.logger)
	record := func(item Item, status ledger.AssetStatus) {
		asset := ledger.Asset{
			RunID:      runID,
			Mode:       string(ms.Mode),
			Kind:       item.Kind,
			Container:  item.Container,
			BaseName:   item.Name,
			SourcePath: item.Source,
			BundlePath: item.Output,
			Digest:     item.Digest,
			SizeBytes:  item.Size,
			Status:     status,
			RecordedAt: p.now(),
		}
		if item.Err != nil {
			asset.Error = item.Err.Error()
		}
		if err := p.recorder.RecordAsset(ctx, asset); err != nil {
			logger.Debug("failed to record asset", logging.String("asset", item.Name), logging.Error(err))
		}
	}
	for _, item := range ms.Succeeded {
		record(item, ledger.AssetBundled)
	}
	for _, item := range ms.Failed {
		record(item, ledger.AssetFailed)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, logger *slog.Logger, summary *Summary, fatal error) {
	if p.recorder == nil {
		return
	}
	runErr := fatal
	if runErr == nil {
		runErr = summary.Err()
	}
	err := p.recorder.FinishRun(ctx, summary.RunID, summary.Status(fatal), summary.Succeeded(), summary.Failed(), runErr, summary.FinishedAt)
	if err != nil {
		logging.WarnWithContext(logger, "failed to finalize run history", "ledger_finish_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "history shows this run as still running"),
		)
	}
}

func (p *Pipeline) logSummary(logger *slog.Logger, summary *Summary, fatal error) {
	for _, ms := range summary.Modes {
		attrs := []logging.Attr{
			logging.String(logging.FieldMode, string(ms.Mode)),
			logging.Int("succeeded", len(ms.Succeeded)),
			logging.Int("failed", len(ms.Failed)),
			logging.Duration("duration", ms.Duration),
		}
		if ms.Err != nil {
			attrs = append(attrs, logging.ErrorAttrs(ms.Err)...)
		}
		logger.Info("mode finished", logging.Args(attrs...)...)
		if len(ms.Failed) > 0 {
			names := make([]string, 0, len(ms.Failed))
			for _, item := range ms.Failed {
				names = append(names, item.Name)
			}
			logging.WarnWithContext(logger, "some items failed", "items_failed",
				logging.String(logging.FieldMode, string(ms.Mode)),
				logging.String("items", strings.Join(names, ", ")),
				logging.String(logging.FieldImpact, "failed items have no bundle"),
				logging.String(logging.FieldErrorHint, "see extraction_failed.txt next to each failed asset"),
			)
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("succeeded", summary.Succeeded()),
		logging.Int("failed", summary.Failed()),
		logging.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if fatal != nil {
		logging.ErrorWithContext(logger, "dump aborted", "run_aborted", append(attrs, logging.ErrorAttrs(fatal)...)...)
		return
	}
	logger.Info("dump complete", logging.Args(attrs...)...)
}
