// Package pathresolver implements C1: mapping a request URI to a script
// file, a static file, a catch-all route handler, or a rejection, per
// spec.md §4.1.
package pathresolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind classifies the outcome of a Resolve call.
type Kind int

const (
	// KindScript means Path is a script file to execute.
	KindScript Kind = iota
	// KindStatic means Path is a static file to serve verbatim.
	KindStatic
	// KindRoute means Path is a catch-all _route script; the script still
	// sees the original request URI.
	KindRoute
	// KindFavicon means the embedded default favicon should be served.
	KindFavicon
	// KindForbidden means the URI must be rejected with 403.
	KindForbidden
	// KindNotFound means no script, static file, or route matched.
	KindNotFound
)

// Result is the outcome of resolving one request URI.
type Result struct {
	Kind Kind
	// Path is the resolved filesystem path (absolute), valid for
	// KindScript, KindStatic, and KindRoute.
	Path string
	// OriginalURI is the request URI with its query string and trailing
	// slash stripped, set only for KindRoute since the script must see the
	// un-rewritten URI.
	OriginalURI string
}

// Resolver resolves request URIs under a fixed document root.
type Resolver struct {
	rootDir string
	ext     string
	ignored []string
}

// New builds a Resolver rooted at rootDir, where scripts carry the given
// file extension (e.g. ".bjs"). ignored is the "-i" glob list (spec.md §6,
// e.g. "README*,LICENSE*,*.json,*.yml,*.yaml"): a static file whose base
// name matches one of these patterns is treated as if it did not exist
// (route fallback, else KindNotFound) instead of KindStatic; unlike a
// dotfile it is not rejected with KindForbidden.
func New(rootDir, ext string, ignored []string) *Resolver {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		abs = rootDir
	}
	return &Resolver{rootDir: filepath.Clean(abs), ext: ext, ignored: ignored}
}

// Resolve implements the algorithm in spec.md §4.1.
func (r *Resolver) Resolve(rawURI string) Result {
	uri := stripQuery(rawURI)
	uri = stripTrailingSlash(uri)

	if hasForbiddenSegment(uri) {
		return Result{Kind: KindForbidden}
	}

	joined := filepath.Join(r.rootDir, filepath.FromSlash(uri))
	if !r.within(joined) {
		return Result{Kind: KindForbidden}
	}

	scriptPath := joined + r.ext
	if isRegularFile(scriptPath) {
		return Result{Kind: KindScript, Path: scriptPath}
	}

	path := joined
	if isDir(path) {
		idx := filepath.Join(path, "index"+r.ext)
		if isRegularFile(idx) {
			return Result{Kind: KindScript, Path: idx}
		}
		idxHTML := filepath.Join(path, "index.html")
		if isRegularFile(idxHTML) {
			return Result{Kind: KindStatic, Path: idxHTML}
		}
	}

	if !isRegularFile(path) || r.isIgnored(path) {
		if uri == "/favicon.ico" {
			return Result{Kind: KindFavicon}
		}
		if route, ok := r.findRoute(uri); ok {
			return Result{Kind: KindRoute, Path: route, OriginalURI: uri}
		}
		return Result{Kind: KindNotFound}
	}

	return Result{Kind: KindStatic, Path: path}
}

// findRoute walks upward from uri's directory toward "/" looking for a
// _route<ext> file.
func (r *Resolver) findRoute(uri string) (string, bool) {
	dir := uri
	for {
		candidate := filepath.Join(r.rootDir, filepath.FromSlash(dir), "_route"+r.ext)
		if isRegularFile(candidate) && r.within(candidate) {
			return candidate, true
		}
		if dir == "/" || dir == "" {
			return "", false
		}
		dir = parentOf(dir)
	}
}

// isIgnored reports whether path's base name matches one of the "-i" glob
// patterns (spec.md §6), in which case Resolve treats it as missing rather
// than serving it as a static file.
func (r *Resolver) isIgnored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range r.ignored {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// within reports whether path, once made absolute, still lives under the
// resolver's root — the traversal defence required by spec.md §4.1 step 4.
func (r *Resolver) within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	if abs == r.rootDir {
		return true
	}
	return strings.HasPrefix(abs, r.rootDir+string(filepath.Separator))
}

// hasForbiddenSegment reports whether uri itself begins with "/_" or
// contains a dotfile segment anywhere (spec.md §6: "any URI whose first
// segment begins with _ ... or contains a dotfile segment"). The "_" check
// is a prefix test on the whole URI, not every segment — a path like
// /blog/_archive is not forbidden — while the dotfile check applies to any
// segment, matching the original's
// strncmp(uri, "/_", 2) == 0 || strstr(uri, "/.") != NULL.
func hasForbiddenSegment(uri string) bool {
	if strings.HasPrefix(uri, "/_") {
		return true
	}
	for _, seg := range strings.Split(uri, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

func stripTrailingSlash(uri string) string {
	if len(uri) > 1 && strings.HasSuffix(uri, "/") {
		return strings.TrimSuffix(uri, "/")
	}
	return uri
}

func parentOf(dir string) string {
	idx := strings.LastIndex(dir, "/")
	if idx <= 0 {
		return "/"
	}
	return dir[:idx]
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
