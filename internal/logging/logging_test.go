package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestNew_PlainDisablesColor(t *testing.T) {
	color.NoColor = false
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Info("hello")

	if !color.NoColor {
		t.Fatal("expected color.NoColor to be set when colored is false")
	}
	out := buf.String()
	if !strings.Contains(out, "Log") || !strings.Contains(out, "hello") {
		t.Fatalf("unexpected console line: %q", out)
	}
}

func TestHandle_IncludesAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Error("boom", "script", "a.bjs")

	out := buf.String()
	if !strings.Contains(out, "Error") || !strings.Contains(out, "boom") {
		t.Fatalf("expected tagged error line, got %q", out)
	}
	if !strings.Contains(out, "script=a.bjs") {
		t.Fatalf("expected attr to be rendered, got %q", out)
	}
}

func TestWithAttrs_CarriesIntoSubsequentLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false).With("component", "test")
	logger.Info("ready")

	out := buf.String()
	if !strings.Contains(out, "component=test") {
		t.Fatalf("expected carried attr, got %q", out)
	}
}

func TestRequest_LogsMethodAndURI(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	Request(logger, "GET", "/index")

	out := buf.String()
	if !strings.Contains(out, "method=GET") || !strings.Contains(out, "uri=/index") {
		t.Fatalf("expected method/uri attrs, got %q", out)
	}
}

func TestWelcome_ProductionVsDevelopment(t *testing.T) {
	var prod bytes.Buffer
	Welcome(New(&prod, false), "http://127.0.0.1:7001", true)
	if !strings.Contains(prod.String(), "Production mode") {
		t.Fatalf("expected production banner, got %q", prod.String())
	}

	var dev bytes.Buffer
	Welcome(New(&dev, false), "http://127.0.0.1:7001", false)
	if !strings.Contains(dev.String(), "Development mode") {
		t.Fatalf("expected development banner, got %q", dev.String())
	}
}

func TestDiscard_WritesNothingObservable(t *testing.T) {
	logger := Discard()
	logger.Error("should not appear anywhere visible")
}
