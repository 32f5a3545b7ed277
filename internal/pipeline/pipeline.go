package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"shroomdump/internal/batch"
	"shroomdump/internal/config"
	"shroomdump/internal/extvars"
	"shroomdump/internal/fetch"
	"shroomdump/internal/ledger"
	"shroomdump/internal/logging"
	"shroomdump/internal/services"
	"shroomdump/internal/services/decoder"
)

// Fetcher retrieves remote documents and archives.
type Fetcher interface {
	Text(ctx context.Context, url string) (string, error)
	JSON(ctx context.Context, url string, v any) error
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Extractor decodes container files with the external decoder.
type Extractor interface {
	EnsureAvailable(ctx context.Context) error
	ExtractFile(ctx context.Context, input, outDir string) (decoder.Result, error)
}

// Recorder persists run history.
type Recorder interface {
	BeginRun(ctx context.Context, id string, modes []string, startedAt time.Time) error
	RecordAsset(ctx context.Context, asset ledger.Asset) error
	FinishRun(ctx context.Context, id string, status ledger.RunStatus, succeeded, failed int, runErr error, finishedAt time.Time) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithFetcher replaces the HTTP client built from config.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.fetcher = f
		}
	}
}

// WithExtractor replaces the decoder manager built from config.
func WithExtractor(e Extractor) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.extractor = e
		}
	}
}

// WithRecorder enables run history recording.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// RunOptions selects the modes of one run. An empty URL falls back to the
// config; a mode with no URL at all is skipped.
type RunOptions struct {
	OriginsURL  string
	StandardURL string
	// OnProgress receives every batch progress report, e.g. for a live
	// terminal line.
	OnProgress func(batch.Progress)
}

// Pipeline runs dumps. A Pipeline may run repeatedly but not concurrently
// against the same download directory.
type Pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	fetcher    Fetcher
	extractor  Extractor
	recorder   Recorder
	now        func() time.Time
	projectURL string
}

// New constructs a pipeline. Collaborators not supplied via options are built
// from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires config")
	}
	p := &Pipeline{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		now:        time.Now,
		projectURL: strings.TrimSuffix(cfg.Decoder.RepositoryURL, ".git"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = fetch.NewFromConfig(cfg, logger)
	}
	if p.extractor == nil {
		mgr, err := decoder.New(decoder.SettingsFromConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("decoder: %w", err)
		}
		p.extractor = mgr
	}
	return p, nil
}

// Run executes every configured mode and returns the run summary. The error
// is non-nil only for failures that abort the run; mode failures are carried
// in the summary.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	originsURL := firstNonEmpty(opts.OriginsURL, p.cfg.Origins.ExternalVariablesURL)
	standardURL := firstNonEmpty(opts.StandardURL, p.cfg.Standard.ExternalVariablesURL)
	if originsURL == "" && standardURL == "" {
		return nil, services.Wrap(services.KindConfig, "start run", "", "no external variables URL configured for any mode", nil)
	}

	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.KindSetup, "prepare directories", "", "", err)
	}
	lock, err := AcquireRunLock(p.cfg.Paths.DownloadDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release(p.logger)

	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)

	summary := &Summary{RunID: runID, StartedAt: p.now()}
	var modes []string
	if originsURL != "" {
		modes = append(modes, string(ModeOrigins))
	}
	if standardURL != "" {
		modes = append(modes, string(ModeStandard))
	}
	p.beginRun(ctx, logger, runID, modes, summary.StartedAt)
	logger.Info("dump started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("modes", strings.Join(modes, ",")),
		logging.String("download_dir", p.cfg.Paths.DownloadDir),
		logging.String("output_dir", p.cfg.Paths.OutputDir),
	)

	steps := newStepper(p.logger)
	progress := p.progressReporter(opts.OnProgress)

	var fatal error
	if originsURL != "" {
		modeCtx := services.WithMode(ctx, string(ModeOrigins))
		ms, err := p.runOrigins(modeCtx, originsURL, steps, progress)
		summary.Modes = append(summary.Modes, ms)
		p.recordMode(modeCtx, runID, ms)
		fatal = err
	}
	if fatal == nil && standardURL != "" {
		modeCtx := services.WithMode(ctx, string(ModeStandard))
		ms, err := p.runStandard(modeCtx, standardURL, steps, progress)
		summary.Modes = append(summary.Modes, ms)
		p.recordMode(modeCtx, runID, ms)
		fatal = err
	}

	summary.FinishedAt = p.now()
	p.finishRun(ctx, logger, summary, fatal)
	p.logSummary(logger, summary, fatal)
	return summary, fatal
}

// loadVariables fetches and resolves an external variables document.
func (p *Pipeline) loadVariables(ctx context.Context, url string) (*extvars.VariableSet, error) {
	text, err := p.fetcher.Text(ctx, url)
	if err != nil {
		return nil, err
	}
	set := extvars.Resolve(extvars.Parse(text))
	logger := logging.WithContext(ctx, p.logger)
	if unresolved := extvars.Unresolved(set); len(unresolved) > 0 {
		logger.Debug("variables left with placeholders", logging.String("keys", strings.Join(unresolved, ",")))
	}
	logger.Info("external variables resolved", logging.String("url", url), logging.Int("count", set.Len()))
	return set, nil
}

func (p *Pipeline) progressReporter(hook func(batch.Progress)) func(context.Context) func(batch.Progress) {
	return func(ctx context.Context) func(batch.Progress) {
		logger := logging.WithContext(ctx, p.logger)
		sampler := logging.NewProgressSampler(10)
		return func(progress batch.Progress) {
			if hook != nil {
				hook(progress)
			}
			if sampler.ShouldLog(float64(progress.Percent), progress.Label) {
				logger.Info(fmt.Sprintf("%s: %d / %d", progress.Label, progress.Loaded, progress.Total),
					logging.Int("percent", progress.Percent),
				)
			}
		}
	}
}

// handleModeError classifies a step failure: fatal errors are returned for
// the caller to abort, the rest are recorded on the mode summary.
func handleModeError(ctx context.Context, logger *slog.Logger, ms *ModeSummary, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || services.IsFatal(err) {
		ms.Err = err
		return err
	}
	ms.Err = err
	logging.WarnWithContext(logging.WithContext(ctx, logger), "mode aborted", "mode_failed",
		append(logging.ErrorAttrs(err),
			logging.String(logging.FieldImpact, "this mode produced no further output; other modes continue"),
			logging.String(logging.FieldErrorHint, hintFor(err)),
		)...,
	)
	return nil
}

func hintFor(err error) string {
	switch services.KindOf(err) {
	case services.KindConfig:
		return "check the external variables document for the named key"
	case services.KindFetch:
		return "check network connectivity and the configured URLs"
	default:
		return "rerun with --log-level debug for details"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
