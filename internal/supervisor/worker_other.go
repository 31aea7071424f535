//go:build !linux

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bialet-dev/bialet/internal/config"
)

// IsWorker always reports false off Linux: there is no separate worker
// process, only the single in-process watchdog path (spec.md §9 redesign
// note: "on platforms without fork, substitute an in-process watchdog
// thread").
func IsWorker() bool { return false }

// RunWorker only exists on Linux, where serveSupervised re-execs a worker
// process; off Linux, IsWorker is always false so callers never reach
// this. It is defined here only so the call in cmd/bialet compiles on
// every platform.
func RunWorker(ctx context.Context, handler http.Handler) error {
	return errors.New("supervisor: RunWorker is only available on Linux")
}

// serveSupervised runs handler directly, without a fork boundary: each
// request gets a context bounded by the CPU hard limit instead of a
// process-level RLIMIT_CPU, matching the portable half of spec.md §9's
// redesign note ("the supervisory state machine ... is portable; only its
// implementation differs").
func serveSupervised(ctx context.Context, cfg *config.Config, logger *slog.Logger, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	bounded := &cpuBoundHandler{next: handler, limit: time.Duration(cfg.CPUHardLimitS) * time.Second}
	srv := &http.Server{Handler: bounded}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// cpuBoundHandler bounds each request's wall-clock budget when no kernel
// rlimit is available to bound it instead (non-Linux fallback for spec.md
// §4.6's per-request resource cap).
type cpuBoundHandler struct {
	next  http.Handler
	limit time.Duration
}

func (c *cpuBoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.limit <= 0 {
		c.next.ServeHTTP(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), c.limit)
	defer cancel()
	c.next.ServeHTTP(w, r.WithContext(ctx))
}
