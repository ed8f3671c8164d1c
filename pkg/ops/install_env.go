package ops

import (
	"cairn.dev/cairn/pkg/config"
)

// InstallEnv is the shared environment a set of builds run within.
type InstallEnv struct {
	// BuildDir is where per-package work dirs are created.
	BuildDir string

	Store *config.Store

	Config *config.Config

	// Jobs caps phase parallelism; 0 means the configured default.
	Jobs int

	// RetainBuild keeps the work dir of a failed build around for
	// inspection instead of removing it.
	RetainBuild bool

	// StartShell drops into an interactive shell in the work dir
	// when a phase fails.
	StartShell bool

	SkipPostInstall bool
}
