// Package script implements C4 (the per-request scripting VM) and C5 (the
// file-sentinel response mechanism), per spec.md §4.4/§4.5.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/bialet-dev/bialet/internal/modules"
	"github.com/bialet-dev/bialet/internal/store"
)

// Request is the read-only request context handed to Run (spec.md §3
// RequestContext). It is nil for CLI one-shot invocations (-r), in which
// case no "Request" global is installed in the VM at all.
type Request struct {
	Method          string
	URI             string
	RawHead         []byte
	Body            []byte
	Route           string
	UploadedFileIDs []string
}

// Response is the outcome of running a script (spec.md §3 Response).
type Response struct {
	Status int
	Header string
	Body   []byte
}

// Driver builds a fresh goja VM per Run call — spec.md §4.4 rules out VM
// pooling, so there is no interpreter state to manage between requests.
type Driver struct {
	ext    string
	store  *store.Store
	loader *modules.Loader
	logger *slog.Logger
}

// NewDriver builds a Driver. ext is the script file extension (e.g. ".bjs"),
// used only to label compiled programs for error messages.
func NewDriver(ext string, st *store.Store, loader *modules.Loader, logger *slog.Logger) *Driver {
	return &Driver{ext: ext, store: st, loader: loader, logger: logger}
}

// Run compiles and executes source — the file at scriptPath — in a fresh
// VM with Response, Db, console, and require bound (plus Request when req
// is non-nil), then extracts the Response per spec.md §4.4 step 6.
//
// Compile and runtime errors never propagate to the caller as a Go error:
// per spec.md §4.4 step 5 they are logged in full here and folded into a
// bare 500 Response, so the client never sees interpreter internals. The
// error return is reserved for VM setup failures, which should not happen
// in practice.
func (d *Driver) Run(ctx context.Context, scriptPath, source string, req *Request) (*Response, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	// Stop the script once ctx's deadline passes, so a per-request time
	// bound set by the caller interrupts a running VM.
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			vm.Interrupt(ctx.Err())
		}
	})
	defer stop()

	resp := newResponseBridge()
	if err := vm.Set("Response", resp); err != nil {
		return nil, fmt.Errorf("binding Response: %w", err)
	}

	if req != nil {
		if err := vm.Set("Request", &requestBridge{
			Method:          req.Method,
			Uri:             req.URI,
			RawHead:         string(req.RawHead),
			Body:            string(req.Body),
			Route:           req.Route,
			UploadedFileIDs: req.UploadedFileIDs,
		}); err != nil {
			return nil, fmt.Errorf("binding Request: %w", err)
		}
	}

	if err := vm.Set("Db", &dbBridge{conn: d.store.Conn(), logger: d.logger}); err != nil {
		return nil, fmt.Errorf("binding Db: %w", err)
	}

	logB := &logBridge{store: d.store, logger: d.logger}
	console := vm.NewObject()
	_ = console.Set("log", logB.Log)
	_ = console.Set("error", logB.Log)
	if err := vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("binding console: %w", err)
	}

	if err := vm.Set("require", d.makeRequire(ctx, vm, filepath.Dir(scriptPath))); err != nil {
		return nil, fmt.Errorf("binding require: %w", err)
	}

	prog, err := goja.Compile(scriptPath, source, false)
	if err != nil {
		d.logger.Error("Compilation Error", "script", scriptPath, "error", err.Error())
		return &Response{Status: 500}, nil
	}

	value, err := vm.RunProgram(prog)
	if err != nil {
		d.logger.Error("Runtime Error", "script", scriptPath, "error", err.Error())
		return &Response{Status: 500}, nil
	}

	return d.extractResponse(value, resp, req), nil
}

// extractResponse implements spec.md §4.4 step 6's precedence: the script's
// own completion value wins as the body if it is a string, otherwise
// Response.out() is used; status always comes from Response.status, and
// headers are only collected when there is a real request to attach them
// to. The file-sentinel substitution (C5, spec.md §4.5) only applies to the
// Response.out() branch (step 6b) — a completion-string body (step 6a) is
// used as-is, matching the original's bialet_wren.c, which only reaches the
// BIALET_FILE_CHAR check inside the else branch that calls Response.out().
func (d *Driver) extractResponse(value goja.Value, resp *responseBridge, req *Request) *Response {
	var body string
	var hasCompletionString bool
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		if s, ok := value.Export().(string); ok {
			body, hasCompletionString = s, true
		}
	}
	if !hasCompletionString {
		body = resp.Out()
	}

	var header string
	if req != nil {
		header = resp.Headers()
	}

	status := resp.Status
	bodyBytes := []byte(body)
	if !hasCompletionString && len(bodyBytes) > 0 && bodyBytes[0] == 0x1A {
		id := string(bodyBytes[1:])
		data, ok, err := d.store.GetFile(id)
		switch {
		case err != nil:
			d.logger.Error("Error", "error", err.Error(), "file", id)
			bodyBytes, status = nil, 500
		case !ok:
			bodyBytes, status = nil, 500
		default:
			bodyBytes = data
		}
	}

	return &Response{Status: status, Header: header, Body: bodyBytes}
}

// makeRequire builds the script-global "require" bound to callerDir, per
// spec.md §4.2. Each resolved module is wrapped CommonJS-style — (function
// (module, exports, require) {...}) — compiled once, and cached by
// (callerDir, name) for the lifetime of this Run call so repeated requires
// of the same module share one exports object and never re-run its body.
func (d *Driver) makeRequire(ctx context.Context, vm *goja.Runtime, rootCallerDir string) func(name string) goja.Value {
	cache := map[string]goja.Value{}

	var build func(dir string) func(name string) goja.Value
	build = func(dir string) func(name string) goja.Value {
		return func(name string) goja.Value {
			key := dir + "\x00" + name
			if v, ok := cache[key]; ok {
				return v
			}

			source, nextDir, err := d.loader.Load(ctx, name, dir)
			if err != nil {
				panic(vm.NewGoError(err))
			}

			wrapped := "(function(module, exports, require) {\n" + source + "\n})"
			prog, err := goja.Compile(name, wrapped, false)
			if err != nil {
				panic(vm.NewGoError(fmt.Errorf("compiling module %s: %w", name, err)))
			}

			fnValue, err := vm.RunProgram(prog)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			callable, ok := goja.AssertFunction(fnValue)
			if !ok {
				panic(vm.NewGoError(fmt.Errorf("module %s is not a function", name)))
			}

			moduleObj := vm.NewObject()
			exportsObj := vm.NewObject()
			_ = moduleObj.Set("exports", exportsObj)
			nestedRequire := vm.ToValue(build(nextDir))

			if _, err := callable(goja.Undefined(), moduleObj, exportsObj, nestedRequire); err != nil {
				if exc, ok := err.(*goja.Exception); ok {
					panic(exc.Value())
				}
				panic(vm.NewGoError(err))
			}

			result := moduleObj.Get("exports")
			cache[key] = result
			return result
		}
	}
	return build(rootCallerDir)
}
