//go:build !linux

package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsWorker_AlwaysFalse(t *testing.T) {
	if IsWorker() {
		t.Fatal("expected IsWorker to always be false off Linux")
	}
}

func TestRunWorker_ReturnsError(t *testing.T) {
	if err := RunWorker(context.Background(), http.NotFoundHandler()); err == nil {
		t.Fatal("expected RunWorker to return an error off Linux")
	}
}

func TestCPUBoundHandler_CancelsContextAfterLimit(t *testing.T) {
	done := make(chan bool, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			done <- true
		case <-time.After(time.Second):
			done <- false
		}
	})
	h := &cpuBoundHandler{next: next, limit: 10 * time.Millisecond}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !<-done {
		t.Fatal("expected request context to be cancelled after the CPU limit elapses")
	}
}

func TestCPUBoundHandler_ZeroLimitNeverCancels(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Context().Err() != nil {
			t.Fatal("expected no cancellation with a zero limit")
		}
	})
	h := &cpuBoundHandler{next: next, limit: 0}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected next handler to be invoked")
	}
}
