package pathresolver

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolve_Script(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hello.bjs"), `"hi"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/hello")
	if res.Kind != KindScript {
		t.Fatalf("expected KindScript, got %v", res.Kind)
	}
	if res.Path != filepath.Join(root, "hello.bjs") {
		t.Fatalf("unexpected path: %s", res.Path)
	}
}

func TestResolve_ScriptWinsOverStatic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "page.bjs"), `"script"`)
	writeFile(t, filepath.Join(root, "page"), `static`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/page")
	if res.Kind != KindScript {
		t.Fatalf("expected script to win, got %v", res.Kind)
	}
}

func TestResolve_DirectoryIndexPrefersScript(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blog", "index.bjs"), `"index"`)
	writeFile(t, filepath.Join(root, "blog", "index.html"), `<html></html>`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/blog")
	if res.Kind != KindScript {
		t.Fatalf("expected index.bjs to win over index.html, got %v", res.Kind)
	}
}

func TestResolve_DirectoryIndexFallsBackToHTML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blog", "index.html"), `<html></html>`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/blog")
	if res.Kind != KindStatic {
		t.Fatalf("expected static index.html, got %v", res.Kind)
	}
}

func TestResolve_ForbiddenUnderscorePrefix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_migration.bjs"), `"x"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/_migration.bjs")
	if res.Kind != KindForbidden {
		t.Fatalf("expected forbidden, got %v", res.Kind)
	}
}

func TestResolve_ForbiddenDotfileSegment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".secret", "x.bjs"), `"x"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/.secret/x.bjs")
	if res.Kind != KindForbidden {
		t.Fatalf("expected forbidden for dotfile segment, got %v", res.Kind)
	}
}

func TestResolve_ForbiddenEvenWithoutMatchingFile(t *testing.T) {
	root := t.TempDir()
	r := New(root, ".bjs", nil)
	res := r.Resolve("/_nonexistent")
	if res.Kind != KindForbidden {
		t.Fatalf("expected forbidden regardless of file existence, got %v", res.Kind)
	}
}

func TestResolve_UnderscorePrefixOnlyForbiddenAsFirstSegment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blog", "_archive.bjs"), `"archive"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/blog/_archive")
	if res.Kind != KindScript {
		t.Fatalf("expected a nested underscore segment to resolve normally, got %v", res.Kind)
	}
}

func TestResolve_TraversalRejected(t *testing.T) {
	root := t.TempDir()
	r := New(root, ".bjs", nil)

	for _, uri := range []string{"/../etc/passwd", "/..%2f..%2fetc/passwd"} {
		res := r.Resolve(uri)
		if res.Kind == KindScript || res.Kind == KindStatic {
			t.Fatalf("traversal URI %q must never resolve to file contents, got %v (%s)", uri, res.Kind, res.Path)
		}
	}
}

func TestResolve_RouteFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "users", "_route.bjs"), `"route"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/users/42/profile")
	if res.Kind != KindRoute {
		t.Fatalf("expected route fallback, got %v", res.Kind)
	}
	if res.OriginalURI != "/users/42/profile" {
		t.Fatalf("route handler must see original URI, got %q", res.OriginalURI)
	}
	if res.Path != filepath.Join(root, "users", "_route.bjs") {
		t.Fatalf("unexpected route path: %s", res.Path)
	}
}

func TestResolve_NotFoundWhenNoRoute(t *testing.T) {
	root := t.TempDir()
	r := New(root, ".bjs", nil)
	res := r.Resolve("/nothing/here")
	if res.Kind != KindNotFound {
		t.Fatalf("expected not found, got %v", res.Kind)
	}
}

func TestResolve_Favicon(t *testing.T) {
	root := t.TempDir()
	r := New(root, ".bjs", nil)
	res := r.Resolve("/favicon.ico")
	if res.Kind != KindFavicon {
		t.Fatalf("expected favicon fallback, got %v", res.Kind)
	}
}

func TestResolve_TrailingSlashStripped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "about.bjs"), `"about"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/about/")
	if res.Kind != KindScript {
		t.Fatalf("expected trailing slash to be stripped, got %v", res.Kind)
	}
}

func TestResolve_QueryStringStripped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "search.bjs"), `"search"`)

	r := New(root, ".bjs", nil)
	res := r.Resolve("/search?q=hello")
	if res.Kind != KindScript {
		t.Fatalf("expected query string to be stripped before resolution, got %v", res.Kind)
	}
}

func TestResolve_IgnoredGlobHidesStaticFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "README.md"), `# hi`)

	r := New(root, ".bjs", []string{"README*"})
	res := r.Resolve("/README.md")
	if res.Kind != KindNotFound {
		t.Fatalf("expected ignored file to resolve not found, got %v", res.Kind)
	}
}

func TestResolve_RootSlashNeverStripped(t *testing.T) {
	root := t.TempDir()
	r := New(root, ".bjs", nil)
	res := r.Resolve("/")
	if res.Kind != KindNotFound {
		t.Fatalf("expected bare root with nothing present to be not found, got %v", res.Kind)
	}
}
