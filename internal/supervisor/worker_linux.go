//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/bialet-dev/bialet/internal/config"
	"github.com/bialet-dev/bialet/internal/logging"
)

// workerEnvVar marks a re-exec'd process as the worker rather than the
// supervisor (spec.md §4.6 "Worker supervision (Linux only)"). The
// supervisor passes the already-bound listener socket to the worker as
// file descriptor 3 instead of re-binding the address, the standard Go
// graceful-restart pattern for handing off a live listener across exec.
const (
	workerEnvVar   = "BIALET_WORKER"
	memHardEnvVar  = "BIALET_MEM_HARD_MB"
	cpuHardEnvVar  = "BIALET_CPU_HARD_S"
	listenerFD     = 3
)

// IsWorker reports whether this process was re-exec'd as the worker.
func IsWorker() bool {
	return os.Getenv(workerEnvVar) == "1"
}

// ApplyRlimitsFromEnv applies RLIMIT_AS/RLIMIT_CPU read from the
// environment the supervisor set when re-exec'ing this process (spec.md
// §4.6 "The worker applies RLIMIT_AS = mem_hard_limit * MB and RLIMIT_CPU =
// cpu_hard_limit to itself"). Call this before doing any real work in
// worker mode.
func ApplyRlimitsFromEnv() error {
	memMB, _ := strconv.ParseUint(os.Getenv(memHardEnvVar), 10, 64)
	cpuS, _ := strconv.ParseUint(os.Getenv(cpuHardEnvVar), 10, 64)
	return applyRlimits(memMB, cpuS)
}

func applyRlimits(memHardMB, cpuHardS uint64) error {
	if memHardMB > 0 {
		bytes := memHardMB * 1024 * 1024
		lim := syscall.Rlimit{Cur: bytes, Max: bytes}
		if err := syscall.Setrlimit(syscall.RLIMIT_AS, &lim); err != nil {
			return fmt.Errorf("setting RLIMIT_AS: %w", err)
		}
	}
	if cpuHardS > 0 {
		lim := syscall.Rlimit{Cur: cpuHardS, Max: cpuHardS}
		if err := syscall.Setrlimit(syscall.RLIMIT_CPU, &lim); err != nil {
			return fmt.Errorf("setting RLIMIT_CPU: %w", err)
		}
	}
	return nil
}

// ListenerFromFD reconstructs the net.Listener the supervisor handed down
// on fd 3.
func ListenerFromFD() (net.Listener, error) {
	f := os.NewFile(uintptr(listenerFD), "bialet-listener")
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("reconstructing listener from fd: %w", err)
	}
	return ln, nil
}

// serveSupervised implements spec.md §4.6's worker supervision state
// machine on Linux: the calling process is the supervisor; it forks (via
// self re-exec, the portable stand-in for fork()) a worker bound to the
// already-open listener and restarts it on abnormal exit, while this
// process's own reload/cron threads keep running independently.
func serveSupervised(ctx context.Context, cfg *config.Config, logger *slog.Logger, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	lnFile, err := ln.(*net.TCPListener).File()
	if err != nil {
		ln.Close()
		return fmt.Errorf("duplicating listener fd: %w", err)
	}
	ln.Close() // the dup'd file keeps the socket alive for the worker

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Env = append(os.Environ(),
			workerEnvVar+"=1",
			fmt.Sprintf("%s=%d", memHardEnvVar, cfg.MemHardLimitMB),
			fmt.Sprintf("%s=%d", cpuHardEnvVar, cfg.CPUHardLimitS),
		)
		cmd.ExtraFiles = []*os.File{lnFile}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
			}
			return nil
		case err := <-done:
			if err == nil {
				return nil
			}
			logging.Restarting(logger)
		}
	}
}

// RunWorker applies resource limits and serves handler on the listener
// handed down by the supervisor, until ctx is cancelled (SIGTERM/SIGINT,
// spec.md §4.6's "reading → dispatching → writing" loop between
// "accepting" and "draining").
func RunWorker(ctx context.Context, handler http.Handler) error {
	if err := ApplyRlimitsFromEnv(); err != nil {
		return err
	}
	ln, err := ListenerFromFD()
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: handler}
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
