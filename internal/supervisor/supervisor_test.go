package supervisor

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bialet-dev/bialet/internal/config"
	"github.com/bialet-dev/bialet/internal/live"
	"github.com/bialet-dev/bialet/internal/logging"
	"github.com/bialet-dev/bialet/internal/script"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	resp  *script.Response
	err   error
}

func (r *recordingRunner) Run(_ context.Context, scriptPath, _ string, _ *script.Request) (*script.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, scriptPath)
	r.mu.Unlock()
	if r.resp != nil {
		return r.resp, r.err
	}
	return &script.Response{Status: 200}, r.err
}

func (r *recordingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestSupervisor(t *testing.T, root string, runner *recordingRunner, reload *live.Broadcaster) *Supervisor {
	t.Helper()
	cfg := &config.Config{RootDir: root}
	return New(cfg, runner, logging.Discard(), reload)
}

func TestReloadTrigger_RunsBootstrapWhenNoMigrationHook(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.ReloadTrigger(context.Background())

	if runner.callCount() != 1 {
		t.Fatalf("expected exactly one hook run, got %d", runner.callCount())
	}
	if runner.calls[0] != "<bootstrap>" {
		t.Fatalf("expected bootstrap fallback path, got %q", runner.calls[0])
	}
}

func TestReloadTrigger_PrefersRootMigrationFile(t *testing.T) {
	root := t.TempDir()
	migration := filepath.Join(root, "_migration.bjs")
	if err := os.WriteFile(migration, []byte("1"), 0o644); err != nil {
		t.Fatalf("writing migration hook: %v", err)
	}
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.ReloadTrigger(context.Background())

	if runner.callCount() != 1 || runner.calls[0] != migration {
		t.Fatalf("expected migration hook to run, got %v", runner.calls)
	}
}

func TestReloadTrigger_DebouncesRapidCalls(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.ReloadTrigger(context.Background())
	sup.ReloadTrigger(context.Background())
	sup.ReloadTrigger(context.Background())

	if runner.callCount() != 1 {
		t.Fatalf("expected debounced calls to collapse to 1 run, got %d", runner.callCount())
	}
}

func TestReloadTrigger_BroadcastsReload(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{}
	b := live.New(logging.Discard())
	sup := newTestSupervisor(t, root, runner, b)

	req := httptest.NewRequest("GET", "/__bialet_reload", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeSSE(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if b.ClientCount() != 1 {
		t.Fatal("expected SSE client to register")
	}

	sup.ReloadTrigger(context.Background())

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(rec.Body.String(), "event: reload") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !strings.Contains(rec.Body.String(), "event: reload") {
		t.Fatal("expected reload trigger to broadcast to connected clients")
	}

	cancel()
	<-done
}

func TestRefreshCron_InstalledWhenCronFileExists(t *testing.T) {
	root := t.TempDir()
	cronFile := filepath.Join(root, "_cron.bjs")
	if err := os.WriteFile(cronFile, []byte("1"), 0o644); err != nil {
		t.Fatalf("writing cron hook: %v", err)
	}
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.refreshCron()

	path, source, installed := sup.CronSnapshot()
	if !installed || path != cronFile || source != "1" {
		t.Fatalf("unexpected cron snapshot: path=%q source=%q installed=%v", path, source, installed)
	}
}

func TestRefreshCron_NotInstalledWithoutCronFile(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.refreshCron()

	_, _, installed := sup.CronSnapshot()
	if installed {
		t.Fatal("expected no cron hook to be installed")
	}
}

func TestRunCronTick_SkipsWhenNotInstalled(t *testing.T) {
	root := t.TempDir()
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)

	sup.RunCronTick(context.Background())

	if runner.callCount() != 0 {
		t.Fatalf("expected no run without an installed cron hook, got %d", runner.callCount())
	}
}

func TestRunCronTick_RunsWhenInstalled(t *testing.T) {
	root := t.TempDir()
	cronFile := filepath.Join(root, "_cron.bjs")
	if err := os.WriteFile(cronFile, []byte("1"), 0o644); err != nil {
		t.Fatalf("writing cron hook: %v", err)
	}
	runner := &recordingRunner{}
	sup := newTestSupervisor(t, root, runner, nil)
	sup.refreshCron()

	sup.RunCronTick(context.Background())

	if runner.callCount() != 1 || runner.calls[0] != cronFile {
		t.Fatalf("expected cron hook to run, got %v", runner.calls)
	}
}

func TestFirstExisting_PrefersEarlierPath(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "a.bjs")
	second := filepath.Join(root, "b.bjs")
	if err := os.WriteFile(first, []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("B"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, source := firstExisting([]string{first, second})
	if path != first || source != "A" {
		t.Fatalf("expected first candidate to win, got path=%q source=%q", path, source)
	}
}

func TestFirstExisting_FallsBackToLater(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "missing.bjs")
	present := filepath.Join(root, "present.bjs")
	if err := os.WriteFile(present, []byte("B"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, source := firstExisting([]string{missing, present})
	if path != present || source != "B" {
		t.Fatalf("expected fallback candidate, got path=%q source=%q", path, source)
	}
}

func TestFirstExisting_EmptyWhenNoneExist(t *testing.T) {
	root := t.TempDir()
	path, source := firstExisting([]string{filepath.Join(root, "nope.bjs")})
	if path != "" || source != "" {
		t.Fatalf("expected empty result, got path=%q source=%q", path, source)
	}
}
