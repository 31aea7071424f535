// Package supervisor implements C6: the startup sequence, the debounced
// reload trigger that re-runs the migration and cron hooks, the file
// watcher that feeds it, the cron runner, and the worker supervision loop
// that bounds a runaway request with resource limits and restarts on
// abnormal exit (spec.md §4.6).
//
// The worker boundary is modelled the way spec.md §9's redesign note
// requires: fork() is not a portable Go primitive, so on Linux the
// supervisor re-execs itself (os/exec, matching internal/shell/shell.go's
// subprocess style) into a worker that applies RLIMIT_AS/RLIMIT_CPU to
// itself before accepting connections; on other platforms an in-process
// watchdog bounds each request's wall clock instead of the process.
package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bialet-dev/bialet/internal/config"
	"github.com/bialet-dev/bialet/internal/live"
	"github.com/bialet-dev/bialet/internal/script"
)

// debounceWindow is the minimum interval between reload-trigger runs
// (spec.md §4.6 "debounced, minimum 3 s between runs").
const debounceWindow = 3 * time.Second

// cronInterval is how often the cached cron script runs (spec.md §4.6,
// glossary "Cron hook").
const cronInterval = 60 * time.Second

// Runner is the subset of *script.Driver the supervisor needs to run
// request-less hooks (migration, cron, startup DB init).
type Runner interface {
	Run(ctx context.Context, scriptPath, source string, req *script.Request) (*script.Response, error)
}

// Supervisor owns the reload trigger, the file watcher, the cron runner,
// and (on Linux) the worker process lifecycle.
type Supervisor struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger
	reload *live.Broadcaster

	mu            sync.Mutex
	lastReload    time.Time
	cronInstalled bool
	cronSource    string
	cronPath      string
}

// New builds a Supervisor for the given config and collaborators. The
// reload trigger runs request-less hooks through runner, which already
// closes over the shared store.
func New(cfg *config.Config, runner Runner, logger *slog.Logger, reload *live.Broadcaster) *Supervisor {
	return &Supervisor{cfg: cfg, runner: runner, logger: logger, reload: reload}
}

// migrationPaths returns the candidate migration hook locations, in the
// order spec.md §4.6 / glossary specifies.
func (s *Supervisor) migrationPaths() []string {
	return []string{
		filepath.Join(s.cfg.RootDir, "_migration"+config.ScriptExtension),
		filepath.Join(s.cfg.RootDir, "_app", "migration"+config.ScriptExtension),
	}
}

func (s *Supervisor) cronPaths() []string {
	return []string{
		filepath.Join(s.cfg.RootDir, "_cron"+config.ScriptExtension),
		filepath.Join(s.cfg.RootDir, "_app", "cron"+config.ScriptExtension),
	}
}

// ReloadTrigger runs the migration hook (or a bare DB-init one-liner when
// none exists) and refreshes the cached cron source, per spec.md §4.6.
// Calls within debounceWindow of the previous run are no-ops, so a burst of
// editor-save events collapses into a single execution.
func (s *Supervisor) ReloadTrigger(ctx context.Context) {
	s.mu.Lock()
	if !s.lastReload.IsZero() && time.Since(s.lastReload) < debounceWindow {
		s.mu.Unlock()
		return
	}
	s.lastReload = time.Now()
	s.mu.Unlock()

	s.runMigration(ctx)
	s.refreshCron()

	if s.reload != nil {
		s.reload.Broadcast()
	}
}

func (s *Supervisor) runMigration(ctx context.Context) {
	path, source := firstExisting(s.migrationPaths())
	if source == "" {
		// No migration hook: run a one-liner that just touches the DB
		// module, matching spec.md §4.6 step 1's "otherwise" clause. The
		// store's schema is already applied at Open, so this is an
		// explicit no-op request-less run rather than a bare skip, to
		// keep the hook's logging/side effects uniform either way.
		path, source = "<bootstrap>", "Db.query('SELECT 1')"
	}

	resp, err := s.runner.Run(ctx, path, source, nil)
	if err != nil {
		s.logger.Error("Error", "hook", "migration", "error", err.Error())
		return
	}
	if resp.Status == http.StatusInternalServerError {
		s.logger.Error("Error", "hook", "migration", "path", path)
		return
	}
	s.logger.Info("Log", "hook", "migration", "path", path)
}

func (s *Supervisor) refreshCron() {
	path, source := firstExisting(s.cronPaths())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronPath = path
	s.cronSource = source
	s.cronInstalled = source != ""
}

// CronSnapshot returns the currently cached cron hook path/source and
// whether one is installed, for the cron runner to execute.
func (s *Supervisor) CronSnapshot() (path, source string, installed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cronPath, s.cronSource, s.cronInstalled
}

// RunCronTick executes the cached cron hook once, if one is installed
// (spec.md §4.6 "Cron runner").
func (s *Supervisor) RunCronTick(ctx context.Context) {
	path, source, installed := s.CronSnapshot()
	if !installed {
		return
	}
	if _, err := s.runner.Run(ctx, path, source, nil); err != nil {
		s.logger.Error("Error", "hook", "cron", "error", err.Error())
	}
}

// RunCron starts the cron runner: a ticker that fires every cronInterval,
// beginning at process startup (spec.md §4.6), until ctx is cancelled.
func (s *Supervisor) RunCron(ctx context.Context) {
	ticker := time.NewTicker(cronInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCronTick(ctx)
		}
	}
}

func firstExisting(paths []string) (path, source string) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			return p, string(data)
		}
	}
	return "", ""
}

// Serve starts the HTTP listener and blocks until ctx is cancelled. On
// Linux it delegates to the fork/rlimit worker loop (worker_linux.go); on
// other platforms it serves directly with a per-request watchdog
// (worker_other.go), per spec.md §9's redesign note.
func (s *Supervisor) Serve(ctx context.Context, addr string, handler http.Handler) error {
	return serveSupervised(ctx, s.cfg, s.logger, addr, handler)
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or ctx is done, then
// returns — the caller is expected to cancel its own context and stop the
// listener (spec.md §4.6 "Install a SIGINT/SIGTERM handler that stops the
// listener").
func WaitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

// Bootstrap runs the startup sequence's one-time reload trigger (spec.md
// §4.6 "Then, once, run the reload trigger") before the listener starts.
func (s *Supervisor) Bootstrap(ctx context.Context) {
	s.ReloadTrigger(ctx)
}
