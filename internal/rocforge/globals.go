package rocforge

import (
	"embed"
	"runtime"
	"sync/atomic"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	workspaceDir  string
	workDir       string
	logDir        string
	distDir       string
	buildDir      string
	pythonBin     string
	Debug         bool
	Verbose       bool
	buildPriority string
	ConfigFile    = "/etc/rocforge.conf"
	version       = "dev" // default version; overridden at build time
	arch          = runtime.GOARCH
	buildDate     = "unknown" // overridden at build time
	// Global executors (declared, to be assigned in Main)
	UserExec *Executor
	RootExec *Executor
	//go:embed assets/smoke_test.py
	embeddedAssets embed.FS
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
