package decoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"shroomdump/internal/config"
	"shroomdump/internal/logging"
	"shroomdump/internal/retry"
	"shroomdump/internal/services"
)

// ManifestName is the marker written into a dump directory when decoding
// produced nothing. It never counts as a produced file.
const ManifestName = "extraction_failed.txt"

// DumpMarker is written into every dump directory ExtractFile creates. Only
// marked, manifest-carrying or empty directories are cleared before a decode.
const DumpMarker = ".shroomdump"

// Settings describes where the decoder lives and how it is built and run.
type Settings struct {
	RepositoryURL  string
	CheckoutDir    string
	BinaryName     string
	DecodeCommand  string
	PackageManager string
	Dependencies   []string
	InstallTimeout time.Duration
	BuildCommand   []string
	DecodeTimeout  time.Duration
}

// SettingsFromConfig derives Settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		RepositoryURL:  cfg.Decoder.RepositoryURL,
		CheckoutDir:    cfg.DecoderCheckoutDir(),
		BinaryName:     cfg.Decoder.BinaryName,
		DecodeCommand:  cfg.Decoder.DecodeCommand,
		PackageManager: cfg.Decoder.PackageManager,
		Dependencies:   append([]string(nil), cfg.Decoder.Dependencies...),
		InstallTimeout: cfg.InstallTimeout(),
		BuildCommand:   append([]string(nil), cfg.Decoder.BuildCommand...),
		DecodeTimeout:  cfg.DecodeTimeout(),
	}
}

// Executable returns the expected path of the built decoder.
func (s Settings) Executable() string {
	return filepath.Join(s.CheckoutDir, s.BinaryName)
}

// ProjectURL returns the human-facing project URL derived from the repository.
func (s Settings) ProjectURL() string {
	return strings.TrimSuffix(s.RepositoryURL, ".git")
}

// State reports decoder availability.
type State struct {
	CheckoutDir string
	Executable  string
	Initialized bool
}

// Result describes one extraction attempt.
type Result struct {
	Input     string
	OutputDir string
	Files     []string
	Success   bool
	// ExitErr is the decoder's own failure, kept for diagnostics only.
	ExitErr error
}

// Option configures the manager.
type Option func(*Manager)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(m *Manager) {
		if exec != nil {
			m.exec = exec
		}
	}
}

// WithLookPath replaces exec.LookPath (primarily for tests).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.lookPath = fn
		}
	}
}

type initCall struct {
	done chan struct{}
	err  error
}

// Manager owns a decoder checkout. Safe for concurrent use.
type Manager struct {
	settings Settings
	logger   *slog.Logger
	exec     Executor
	lookPath func(string) (string, error)

	mu       sync.Mutex
	state    State
	inflight *initCall
}

// New constructs a decoder manager.
func New(settings Settings, logger *slog.Logger, opts ...Option) (*Manager, error) {
	settings.CheckoutDir = strings.TrimSpace(settings.CheckoutDir)
	settings.BinaryName = strings.TrimSpace(settings.BinaryName)
	if settings.CheckoutDir == "" {
		return nil, errors.New("decoder checkout directory required")
	}
	if settings.BinaryName == "" {
		return nil, errors.New("decoder binary name required")
	}
	if len(settings.BuildCommand) == 0 {
		settings.BuildCommand = []string{"make"}
	}
	m := &Manager{
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "decoder"),
		exec:     commandExecutor{},
		lookPath: exec.LookPath,
		state: State{
			CheckoutDir: settings.CheckoutDir,
			Executable:  settings.Executable(),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Settings returns the manager's settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

// State returns a snapshot of decoder availability.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureAvailable makes sure the decoder executable exists, fetching and
// building it at most once at a time. ctx bounds only this caller's wait; the
// shared initialization keeps running for the other callers.
func (m *Manager) EnsureAvailable(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Initialized {
		m.mu.Unlock()
		return nil
	}
	call := m.inflight
	if call == nil {
		call = &initCall{done: make(chan struct{})}
		m.inflight = call
		go m.runInit(context.WithoutCancel(ctx), call)
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runInit(ctx context.Context, call *initCall) {
	err := m.initialize(ctx)
	m.mu.Lock()
	if err == nil {
		m.state.Initialized = true
	}
	m.inflight = nil
	call.err = err
	m.mu.Unlock()
	close(call.done)
}

func (m *Manager) initialize(ctx context.Context) error {
	exe := m.settings.Executable()
	if isExecutable(exe) {
		m.logger.Debug("decoder already built", logging.String("path", exe))
		return nil
	}

	m.logger.Info("decoder not found, building from source",
		logging.String("repository", m.settings.RepositoryURL),
		logging.String("checkout", m.settings.CheckoutDir),
	)
	if err := m.ensureCheckout(ctx); err != nil {
		return err
	}
	if err := m.ensurePackageManager(ctx); err != nil {
		return err
	}
	m.installDependencies(ctx)
	if err := m.build(ctx); err != nil {
		return err
	}
	if !isExecutable(exe) {
		return services.Wrap(services.KindSetup, "verify decoder", exe, "build finished but executable is missing", nil)
	}
	m.logger.Info("decoder ready", logging.String("path", exe))
	return nil
}

func (m *Manager) ensureCheckout(ctx context.Context) error {
	if _, err := m.lookPath("git"); err != nil {
		return services.Wrap(services.KindSetup, "locate git", "git", "git is required to fetch the decoder source", err)
	}

	dir := m.settings.CheckoutDir
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		if err := m.exec.Run(ctx, dir, "git", []string{"status", "--short"}, nil); err == nil {
			m.logger.Debug("decoder checkout valid", logging.String("path", dir))
			return nil
		}
		logging.WarnWithContext(m.logger, "decoder checkout invalid, re-cloning", "decoder_checkout_invalid",
			logging.String("path", dir),
			logging.String(logging.FieldImpact, "existing checkout is removed"),
		)
		if err := os.RemoveAll(dir); err != nil {
			return services.Wrap(services.KindSetup, "remove invalid checkout", dir, "", err)
		}
	case err == nil:
		if err := os.Remove(dir); err != nil {
			return services.Wrap(services.KindSetup, "remove file at checkout path", dir, "", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return services.Wrap(services.KindSetup, "stat checkout", dir, "", err)
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return services.Wrap(services.KindSetup, "create tool directory", parent, "", err)
	}
	m.logger.Info("cloning decoder", logging.String("repository", m.settings.RepositoryURL))
	if err := m.exec.Run(ctx, parent, "git", []string{"clone", m.settings.RepositoryURL, dir}, m.debugLine("git")); err != nil {
		return services.Wrap(services.KindSetup, "clone decoder", m.settings.RepositoryURL, "", err)
	}
	return nil
}

func (m *Manager) ensurePackageManager(ctx context.Context) error {
	pm := m.settings.PackageManager
	if pm == "" {
		return nil
	}
	if _, err := m.lookPath(pm); err != nil {
		return services.Wrap(services.KindSetup, "locate package manager", pm,
			fmt.Sprintf("%s is required to install decoder dependencies; install it or set decoder.package_manager to \"\" if dependencies are already present", pm), err)
	}
	if err := m.exec.Run(ctx, m.settings.CheckoutDir, pm, []string{"--version"}, nil); err != nil {
		return services.Wrap(services.KindSetup, "check package manager", pm, "", err)
	}
	return nil
}

// installDependencies never fails the setup: dependencies may already be
// satisfied.
func (m *Manager) installDependencies(ctx context.Context) {
	pm := m.settings.PackageManager
	if pm == "" || len(m.settings.Dependencies) == 0 {
		return
	}
	timeout := m.settings.InstallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	m.logger.Info("installing decoder dependencies",
		logging.String("package_manager", pm),
		logging.String("dependencies", strings.Join(m.settings.Dependencies, " ")),
		logging.Duration("timeout", timeout),
	)
	args := append([]string{"install"}, m.settings.Dependencies...)
	_, err := retry.WithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.exec.Run(ctx, m.settings.CheckoutDir, pm, args, m.debugLine(pm))
	}, services.Wrap(services.KindTimeout, "install dependencies", pm, fmt.Sprintf("exceeded %s", timeout), nil))
	if err != nil {
		logging.WarnWithContext(m.logger, "dependency install failed, continuing", "decoder_dependencies_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, fmt.Sprintf("run `%s %s` manually", pm, strings.Join(args, " "))),
			logging.String(logging.FieldImpact, "build may fail if dependencies are missing"),
		)
	}
}

func (m *Manager) build(ctx context.Context) error {
	command := m.settings.BuildCommand
	m.logger.Info("building decoder", logging.String("command", strings.Join(command, " ")))
	if err := m.exec.Run(ctx, m.settings.CheckoutDir, command[0], command[1:], m.debugLine("build")); err != nil {
		return services.Wrap(services.KindSetup, "build decoder", m.settings.CheckoutDir, "", err)
	}
	return nil
}

func (m *Manager) debugLine(source string) func(string) {
	return func(line string) {
		m.logger.Debug(line, logging.String("source", source))
	}
}

// ExtractFile decodes input into outDir, which is emptied first. Only setup
// failures, context cancellation and an outDir that this package did not
// create are returned as errors; a decode that produces nothing is a Result
// with Success false.
func (m *Manager) ExtractFile(ctx context.Context, input, outDir string) (Result, error) {
	if err := m.EnsureAvailable(ctx); err != nil {
		return Result{}, err
	}

	absInput, err := filepath.Abs(input)
	if err != nil {
		return Result{}, fmt.Errorf("resolve input path: %w", err)
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output path: %w", err)
	}
	if err := prepareDumpDir(absOut); err != nil {
		return Result{}, err
	}

	result := Result{Input: absInput, OutputDir: absOut}
	args := []string{m.settings.DecodeCommand, absInput, "-o", absOut}
	var (
		tailMu sync.Mutex
		tail   []string
	)
	_, runErr := retry.WithTimeout(ctx, m.settings.DecodeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.exec.Run(ctx, m.settings.CheckoutDir, m.settings.Executable(), args, func(line string) {
			tailMu.Lock()
			defer tailMu.Unlock()
			if len(tail) == 8 {
				tail = tail[1:]
			}
			tail = append(tail, line)
		})
	}, services.Wrap(services.KindTimeout, "decode", absInput, fmt.Sprintf("exceeded %s", m.settings.DecodeTimeout), nil))
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if runErr != nil {
		result.ExitErr = runErr
		tailMu.Lock()
		lastLines := strings.Join(tail, " | ")
		tailMu.Unlock()
		m.logger.Debug("decoder exited with error",
			logging.String("input", absInput),
			logging.Error(runErr),
			logging.String("output_tail", lastLines),
		)
	}

	files, err := producedFiles(absOut)
	if err != nil {
		return result, fmt.Errorf("scan output directory: %w", err)
	}
	result.Files = files
	result.Success = len(files) > 0
	return result, nil
}

// prepareDumpDir leaves an empty, marked directory at dir. Existing content
// is removed only when the directory is one of ours.
func prepareDumpDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return services.Wrap(services.KindExtraction, "prepare dump directory", dir, "", err)
	case len(entries) > 0 && !ownsDumpDir(entries):
		return services.Wrap(services.KindExtraction, "prepare dump directory", dir, "directory exists and was not created by the decoder", nil)
	default:
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear dump directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DumpMarker), nil, 0o644); err != nil {
		return fmt.Errorf("mark dump directory: %w", err)
	}
	return nil
}

func ownsDumpDir(entries []os.DirEntry) bool {
	for _, entry := range entries {
		if entry.Name() == DumpMarker || entry.Name() == ManifestName {
			return true
		}
	}
	return false
}

func producedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == ManifestName || entry.Name() == DumpMarker {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
