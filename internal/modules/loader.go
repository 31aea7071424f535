// Package modules implements C2: resolving an import-equivalent module
// name to source text, either from the local script tree or from a cached
// (or freshly fetched) remote module, per spec.md §4.2.
package modules

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bialet-dev/bialet/internal/store"
)

const defaultBranch = "main"

// httpTimeout bounds the total time a remote module fetch may take
// (spec.md §5: "2 s connect and 20 s total timeout").
const httpTimeout = 20 * time.Second
const connectTimeout = 2 * time.Second

// Cache is the subset of *store.Store the loader needs, so tests can fake it.
type Cache interface {
	LookupModule(module string) (string, bool, error)
	CacheModule(module, content string) error
}

// Fetcher performs the outbound HTTP GET for a remote module. The default
// is httpFetcher; tests inject a recording fake to verify the "no network
// I/O on cache hit" invariant (spec.md §8).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Loader resolves module names to source text.
type Loader struct {
	rootDir string
	ext     string
	cache   Cache
	fetch   Fetcher
}

var _ Cache = (*store.Store)(nil)

// New builds a Loader rooted at rootDir, using cache for the remote-module
// table and the default HTTP fetcher.
func New(rootDir, ext string, cache Cache) *Loader {
	return &Loader{rootDir: filepath.Clean(rootDir), ext: ext, cache: cache, fetch: httpFetcher{}}
}

// WithFetcher overrides the HTTP fetcher, for tests.
func (l *Loader) WithFetcher(f Fetcher) *Loader {
	l.fetch = f
	return l
}

// Load resolves name per spec.md §4.2's ordered rules. callerDir is the
// directory of the module that issued the import, used for rule 3
// (relative resolution). It returns the source text and the directory a
// nested import from within that source should resolve relative to
// (rootDir for remote modules, since there is no local caller path — a
// simplification recorded in DESIGN.md). Success and failure are disjoint
// (SPEC_FULL.md §12 / spec.md §9 Open Question).
func (l *Loader) Load(ctx context.Context, name, callerDir string) (source, nextCallerDir string, err error) {
	if strings.Contains(name, ":") {
		src, err := l.loadRemote(ctx, name)
		return src, l.rootDir, err
	}

	var path string
	if strings.HasPrefix(name, "/") {
		path = filepath.Join(l.rootDir, filepath.FromSlash(name))
	} else {
		path = filepath.Join(callerDir, filepath.FromSlash(name))
	}

	if !strings.HasSuffix(path, l.ext) {
		path += l.ext
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("module not found: %s", name)
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(l.rootDir)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		// Defence-in-depth against traversal: fail silently, as a "module
		// not found" diagnostic rather than leaking the escape attempt.
		return "", "", fmt.Errorf("module not found: %s", name)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", fmt.Errorf("module not found: %s", name)
	}
	return string(data), filepath.Dir(abs), nil
}

// loadRemote implements spec.md §4.2 rule 1.
func (l *Loader) loadRemote(ctx context.Context, name string) (string, error) {
	remoteURL, cacheKey, err := resolveRemoteURL(name, l.ext)
	if err != nil {
		return "", err
	}

	if content, ok, err := l.cache.LookupModule(cacheKey); err != nil {
		return "", fmt.Errorf("looking up module cache: %w", err)
	} else if ok {
		return content, nil
	}

	body, err := l.fetch.Fetch(ctx, remoteURL)
	if err != nil {
		return "", fmt.Errorf("fetching remote module %s: %w", name, err)
	}

	if err := l.cache.CacheModule(cacheKey, body); err != nil {
		return "", fmt.Errorf("caching remote module %s: %w", name, err)
	}
	return body, nil
}

// resolveRemoteURL turns a "gh:" or "http(s)://" module name into the URL to
// fetch and the key it's cached under (the module name itself).
func resolveRemoteURL(name, ext string) (remoteURL, cacheKey string, err error) {
	switch {
	case strings.HasPrefix(name, "http://"), strings.HasPrefix(name, "https://"):
		return name, name, nil
	case strings.HasPrefix(name, "gh:"):
		rest := strings.TrimPrefix(name, "gh:")
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) != 3 {
			return "", "", fmt.Errorf("invalid GitHub module reference: %s", name)
		}
		user, repo, path := parts[0], parts[1], parts[2]
		branch := defaultBranch
		if at := strings.Index(repo, "@"); at >= 0 {
			branch = repo[at+1:]
			repo = repo[:at]
		}
		u := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s%s",
			url.PathEscape(user), url.PathEscape(repo), url.PathEscape(branch), path, ext)
		return u, name, nil
	default:
		return "", "", fmt.Errorf("import type not supported: %s", name)
	}
}

type httpFetcher struct{}

func (httpFetcher) Fetch(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: connectTimeout}
	client := &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
