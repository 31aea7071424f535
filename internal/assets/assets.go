// Package assets embeds the fixed-shell error pages and default favicon
// bialet serves without ever touching a script (spec.md §4.6/§7), the way
// web/embed.go embeds ralph's dashboard bundle.
package assets

import (
	"embed"
	"fmt"
)

//go:embed static/favicon.ico
var faviconFS embed.FS

// Favicon returns the bytes of the bundled default favicon, served whenever
// the document root has none of its own (spec.md §4.1 KindFavicon).
func Favicon() []byte {
	b, err := faviconFS.ReadFile("static/favicon.ico")
	if err != nil {
		// Embedded at build time; a read failure here means the embed
		// directive itself is broken, not a runtime condition.
		panic(err)
	}
	return b
}

const shell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%d %s</title>
<style>
body { font-family: sans-serif; background: #1e1e2e; color: #cdd6f4; display: flex;
       align-items: center; justify-content: center; height: 100vh; margin: 0; }
.box { text-align: center; }
h1 { font-size: 4rem; margin: 0; color: #f38ba8; }
p { color: #a6adc8; }
</style>
</head>
<body>
<div class="box">
<h1>%d</h1>
<p>%s</p>
</div>
</body>
</html>
`

// Page renders the fixed HTML shell for a status code, all of them sharing
// one look (spec.md §7): 403 Forbidden, 404 Not Found, 500 Internal Server
// Error, and anything else falls back to a generic rendering of the status
// text.
func Page(status int, text string) []byte {
	return []byte(fmt.Sprintf(shell, status, text, status, text))
}

const welcomeShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>bialet %s</title>
<style>
body { font-family: sans-serif; background: #1e1e2e; color: #cdd6f4; display: flex;
       align-items: center; justify-content: center; height: 100vh; margin: 0; }
.box { text-align: center; }
h1 { font-size: 3rem; margin: 0; color: #a6e3a1; }
p { color: #a6adc8; }
code { color: #89b4fa; }
</style>
</head>
<body>
<div class="box">
<h1>Welcome to Bialet</h1>
<p>version %s</p>
<p>Drop a <code>.bjs</code> file in your document root to get started.</p>
</div>
</body>
</html>
`

// Welcome renders the distinct landing page served at exactly "/" when no
// script or static file answers it (SPEC_FULL.md §12, supplementing the
// generic 404 the rest of the tree falls back to).
func Welcome(version string) []byte {
	return []byte(fmt.Sprintf(welcomeShell, version, version))
}
