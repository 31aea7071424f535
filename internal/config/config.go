// Package config parses the bialet CLI surface into an immutable
// process-wide BialetConfig.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
)

// Config is the immutable, process-wide configuration produced once at
// startup and read-only thereafter (spec.md §3 BialetConfig).
type Config struct {
	RootDir string
	Host    string
	Port    int

	// LogWriter is where colored (or, when LogFile is set, plain) console
	// messages are written.
	LogWriter io.Writer
	LogFile   string // empty when logging to stdout with colour

	DBPath  string
	WAL     bool
	Ignored []string // glob patterns, e.g. "README*", "*.json"

	MemSoftLimitMB int
	MemHardLimitMB int
	CPUSoftLimitS  int
	CPUHardLimitS  int

	Production bool

	// MaxRequestBytes bounds the size of a single incoming request,
	// including any multipart file upload (spec.md §9 Open Question,
	// resolved explicitly in SPEC_FULL.md §12).
	MaxRequestBytes int64

	// RunCode, when non-empty, makes bialet a one-shot CLI runner: it
	// executes RunCode as a request-less script and exits instead of
	// starting the HTTP listener.
	RunCode string
}

const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 7001
	defaultDBFile          = "_db.sqlite3"
	defaultIgnored         = "README*,LICENSE*,*.json,*.yml,*.yaml"
	defaultMemSoftLimitMB  = 50
	defaultMemHardLimitMB  = 100
	defaultCPUSoftLimitS   = 15
	defaultCPUHardLimitS   = 30
	defaultMaxRequestBytes = 2 * 1024 * 1024 // 2 MB, matches the original's fixed read buffer
)

// ScriptExtension is the fixed file-name suffix that distinguishes scripts
// handled by the runtime from static files served verbatim.
const ScriptExtension = ".bjs"

// Version is the bialet release string, reported by -v.
const Version = "0.9-beta"

const usage = `bialet [options] <root_dir>
  -h HOST          listen host (default 127.0.0.1)
  -p PORT          listen port (default 7001)
  -l FILE          log to FILE (disables colour)
  -d PATH          database file (default _db.sqlite3 under root_dir)
  -P               production mode (no live-reload, no dev warnings)
  -w               enable WAL journal mode
  -i GLOBS         comma-separated ignored-files glob (default
                   "README*,LICENSE*,*.json,*.yml,*.yaml")
  -m N / -M N      memory soft/hard limit (MB; defaults 50/100)
  -c N / -C N      CPU soft/hard limit (seconds; defaults 15/30)
  -r CODE          run CODE as a one-shot CLI script and exit
  -v               print version and exit
`

// Parse parses the CLI surface (spec.md §6) out of args (typically
// os.Args[1:]). It never starts anything; callers decide what to do with
// the resulting Config. The one exception is -v, which prints the version
// and exits the process from inside Parse.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bialet", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	host := fs.StringP("host", "h", defaultHost, "listen host")
	port := fs.IntP("port", "p", defaultPort, "listen port")
	logFile := fs.StringP("log", "l", "", "log to FILE (disables colour)")
	dbPath := fs.StringP("db", "d", "", "database file")
	production := fs.BoolP("production", "P", false, "production mode")
	wal := fs.BoolP("wal", "w", false, "enable WAL journal mode")
	ignored := fs.StringP("ignore", "i", defaultIgnored, "comma-separated ignored-files glob")
	memSoft := fs.IntP("mem-soft", "m", defaultMemSoftLimitMB, "memory soft limit (MB)")
	memHard := fs.IntP("mem-hard", "M", defaultMemHardLimitMB, "memory hard limit (MB)")
	cpuSoft := fs.IntP("cpu-soft", "c", defaultCPUSoftLimitS, "CPU soft limit (seconds)")
	cpuHard := fs.IntP("cpu-hard", "C", defaultCPUHardLimitS, "CPU hard limit (seconds)")
	run := fs.StringP("run", "r", "", "run CODE as a one-shot CLI script and exit")
	version := fs.BoolP("version", "v", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *version {
		fmt.Printf("bialet %s\n", Version)
		os.Exit(0)
	}

	cfg := &Config{
		RootDir:         ".",
		Host:            *host,
		Port:            *port,
		LogFile:         *logFile,
		DBPath:          *dbPath,
		WAL:             *wal,
		Ignored:         splitGlobs(*ignored),
		MemSoftLimitMB:  *memSoft,
		MemHardLimitMB:  *memHard,
		CPUSoftLimitS:   *cpuSoft,
		CPUHardLimitS:   *cpuHard,
		Production:      *production,
		MaxRequestBytes: defaultMaxRequestBytes,
		RunCode:         *run,
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.RootDir = rest[0]
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.RootDir, defaultDBFile)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
		}
		cfg.LogWriter = f
	} else {
		cfg.LogWriter = os.Stdout
	}

	return cfg, nil
}

func splitGlobs(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// ServerURL returns the address bialet will listen on, for the welcome banner.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}
