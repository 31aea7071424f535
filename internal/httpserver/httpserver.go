// Package httpserver wires the HTTP wire format to the rest of bialet: it
// dispatches each request through the path resolver (C1), runs scripts
// through the runtime driver (C4/C5), serves static files and the embedded
// fallback pages, and parses multipart uploads, per spec.md §4, §6 and
// SPEC_FULL.md §12.
package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bialet-dev/bialet/internal/assets"
	"github.com/bialet-dev/bialet/internal/config"
	"github.com/bialet-dev/bialet/internal/live"
	"github.com/bialet-dev/bialet/internal/logging"
	"github.com/bialet-dev/bialet/internal/pathresolver"
	"github.com/bialet-dev/bialet/internal/script"
	"github.com/bialet-dev/bialet/internal/store"
)

// contentTypes is the built-in extension → MIME map bialet serves static
// files with (spec.md §6, reinstated in full from the original's
// get_content_type in SPEC_FULL.md §12).
var contentTypes = map[string]string{
	".html": "text/html; charset=UTF-8",
	".htm":  "text/html; charset=UTF-8",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
}

const defaultContentType = "application/octet-stream"

// statusText is the HTTP reason-phrase table (SPEC_FULL.md §12, reinstated
// from the original's get_http_status_description), covering every status
// this server ever emits.
var statusText = map[int]string{
	http.StatusOK:                  "OK",
	http.StatusMovedPermanently:    "Moved Permanently",
	http.StatusForbidden:           "Forbidden",
	http.StatusNotFound:            "Not Found",
	http.StatusInternalServerError: "Internal Server Error",
}

// reloadDevScript is injected into HTML responses in development mode so
// the browser reloads itself when the supervisor broadcasts on C7
// (spec.md §4.7).
const reloadDevScript = `<script>new EventSource("/__bialet_reload").onmessage=function(){location.reload()};</script>`

// ScriptRunner is the subset of *script.Driver the server needs, so tests
// can fake it.
type ScriptRunner interface {
	Run(ctx context.Context, scriptPath, source string, req *script.Request) (*script.Response, error)
}

// Server answers HTTP requests by dispatching through the path resolver and
// either running a script or serving a file.
type Server struct {
	resolver        *pathresolver.Resolver
	runner          ScriptRunner
	store           *store.Store
	logger          *slog.Logger
	production      bool
	maxRequestBytes int64
	reload          *live.Broadcaster
}

// Config bundles the dependencies Server needs to dispatch requests.
type Config struct {
	Resolver        *pathresolver.Resolver
	Runner          ScriptRunner
	Store           *store.Store
	Logger          *slog.Logger
	Production      bool
	MaxRequestBytes int64
	Reload          *live.Broadcaster // nil in production mode
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	return &Server{
		resolver:        cfg.Resolver,
		runner:          cfg.Runner,
		store:           cfg.Store,
		logger:          cfg.Logger,
		production:      cfg.Production,
		maxRequestBytes: cfg.MaxRequestBytes,
		reload:          cfg.Reload,
	}
}

// ServeHTTP implements http.Handler, dispatching per spec.md §4.1/§4.4.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logging.Request(s.logger, r.Method, r.URL.Path)

	if !s.production && r.URL.Path == "/__bialet_reload" {
		s.reload.ServeSSE(w, r)
		return
	}

	if s.maxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	}

	result := s.resolver.Resolve(r.URL.Path)
	switch result.Kind {
	case pathresolver.KindForbidden:
		s.writePage(w, http.StatusForbidden)
	case pathresolver.KindNotFound:
		if r.URL.Path == "/" {
			s.writeWelcome(w)
			return
		}
		s.writePage(w, http.StatusNotFound)
	case pathresolver.KindFavicon:
		s.writeBody(w, http.StatusOK, "image/x-icon", nil, assets.Favicon())
	case pathresolver.KindStatic:
		s.serveStatic(w, r, result.Path)
	case pathresolver.KindScript:
		s.runScript(w, r, result.Path, "")
	case pathresolver.KindRoute:
		s.runScript(w, r, result.Path, result.OriginalURI)
	}
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.writePage(w, http.StatusNotFound)
		return
	}
	ct := contentTypes[strings.ToLower(filepath.Ext(path))]
	if ct == "" {
		ct = defaultContentType
	}
	s.writeBody(w, http.StatusOK, ct, nil, data)
}

// runScript runs the script at scriptPath (or route handler) and writes its
// Response, per spec.md §4.4. originalURI is non-empty only for route
// fallback dispatch (spec.md §4.1 step 7), where the script must see the
// un-rewritten URI rather than the route file's own location.
func (s *Server) runScript(w http.ResponseWriter, r *http.Request, scriptPath, originalURI string) {
	uri := r.URL.Path
	if originalURI != "" {
		uri = originalURI
	}

	source, err := os.ReadFile(scriptPath)
	if err != nil {
		s.logger.Error("Runtime Error", "script", scriptPath, "error", err.Error())
		s.writePage(w, http.StatusInternalServerError)
		return
	}

	body, uploadedIDs, err := s.readBody(r)
	if err != nil {
		s.logger.Error("Error", "error", err.Error())
		s.writePage(w, http.StatusInternalServerError)
		return
	}

	rawHead := requestLineHeaders(r)
	resp, err := s.runner.Run(r.Context(), scriptPath, string(source), &script.Request{
		Method:          r.Method,
		URI:             uri,
		RawHead:         rawHead,
		Body:            body,
		Route:           scriptPath,
		UploadedFileIDs: uploadedIDs,
	})
	if err != nil {
		s.logger.Error("Runtime Error", "script", scriptPath, "error", err.Error())
		s.writePage(w, http.StatusInternalServerError)
		return
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusInternalServerError && len(resp.Body) == 0 {
		s.writePage(w, http.StatusInternalServerError)
		return
	}

	bodyBytes := resp.Body
	if !s.production && status == http.StatusOK && isHTML(resp.Header, bodyBytes) {
		bodyBytes = injectReloadScript(bodyBytes)
	}

	s.writeBody(w, status, "", []byte(resp.Header), bodyBytes)
}

// readBody reads the request body per spec.md §9's explicit, configurable
// size limit, parsing multipart/form-data uploads into BIALET_FILES rows
// when present (SPEC_FULL.md §12).
func (s *Server) readBody(r *http.Request) (body []byte, uploadedIDs []string, err error) {
	if r.Body == nil {
		return nil, nil, nil
	}
	defer r.Body.Close()

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return s.readMultipart(r)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading request body: %w", err)
	}
	return data, nil, nil
}

func (s *Server) readMultipart(r *http.Request) ([]byte, []string, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing multipart content-type: %w", err)
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, nil, fmt.Errorf("multipart request missing boundary")
	}

	reader := multipart.NewReader(r.Body, boundary)
	var ids []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading multipart part: %w", err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("reading uploaded file %s: %w", part.FileName(), err)
		}
		id := uuid.NewString()
		if err := s.store.PutFile(id, data); err != nil {
			return nil, nil, fmt.Errorf("storing uploaded file %s: %w", part.FileName(), err)
		}
		ids = append(ids, id)
	}
	return nil, ids, nil
}

func (s *Server) writePage(w http.ResponseWriter, status int) {
	s.writeBody(w, status, "text/html; charset=UTF-8", nil, assets.Page(status, statusText[status]))
}

func (s *Server) writeWelcome(w http.ResponseWriter) {
	body := assets.Welcome(config.Version)
	if !s.production {
		body = injectReloadScript(body)
	}
	s.writeBody(w, http.StatusOK, "text/html; charset=UTF-8", nil, body)
}

// writeBody writes status, optional raw header bytes (one "Key: Value\r\n"
// per line, per spec.md §3 Response.header), an explicit Content-Length
// (spec.md §4.5/§6), then body, treating body as a byte sequence end to
// end so the file-sentinel mechanism never truncates at a null or 0x1A
// byte (spec.md §9 redesign note).
func (s *Server) writeBody(w http.ResponseWriter, status int, contentType string, rawHeader, body []byte) {
	h := w.Header()
	for _, line := range strings.Split(string(rawHeader), "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		h.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	if contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestLineHeaders(r *http.Request) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.URL.RequestURI(), r.Proto)
	for k, vs := range r.Header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	return []byte(b.String())
}

func isHTML(rawHeader string, body []byte) bool {
	if strings.Contains(rawHeader, "Content-Type") {
		return strings.Contains(rawHeader, "text/html")
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<") || strings.Contains(strings.ToLower(trimmed), "</html>")
}

func injectReloadScript(body []byte) []byte {
	lower := strings.ToLower(string(body))
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return append(append(append([]byte{}, body[:idx]...), []byte(reloadDevScript)...), body[idx:]...)
	}
	return append(body, []byte(reloadDevScript)...)
}
