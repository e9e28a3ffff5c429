// Package hooks resolves and executes kbs2's user-configured pre/post/error
// hook commands around CLI operations, with reentrancy suppression so a
// hook that itself invokes kbs2 doesn't trigger another round of hooks.
package hooks

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"kbs2/internal/kbserr"
	"kbs2/internal/kbslog"
)

// Point names one place in a subcommand's lifecycle a hook can be attached
// to (spec.md §4.6/§4.7).
type Point string

const (
	PreGlobal    Point = "pre-hook"
	PostGlobal   Point = "post-hook"
	ErrorGlobal  Point = "error-hook"
	PreCommand   Point = "commands.pre-hook"
	PostCommand  Point = "commands.post-hook"
	ClearCommand Point = "commands.clear-hook"
)

// Version fields stamped into every hook's environment, matching the
// KBS2_MAJOR_VERSION/KBS2_MINOR_VERSION/KBS2_PATCH_VERSION triple named in
// spec.md §4.6/§6. Set by cmd/kbs2 at build time; zero values are fine for
// tests.
var (
	MajorVersion = "0"
	MinorVersion = "0"
	PatchVersion = "0"
)

// Config is the subset of the loaded configuration the hook runner needs,
// kept narrow so this package doesn't import internal/config back.
type Config struct {
	ConfigDir      string
	Store          string
	ReentrantHooks bool
}

// Runner resolves and executes hook commands for one CLI invocation.
type Runner struct {
	cfg    Config
	logger kbslog.Logger
}

// NewRunner builds a Runner for cfg.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg, logger: kbslog.GetLogger()}
}

// Run executes the hook configured at point, if any. command is the
// resolved hook path-or-shell-command string (empty means "not
// configured", a no-op). args become the hook's positional arguments
// (e.g. the new record's label for a post-hook, the error message for an
// error-hook).
func (r *Runner) Run(point Point, command string, args ...string) error {
	if command == "" {
		return nil
	}

	if point != ErrorGlobal && r.reentrant() {
		r.logger.Debug("skipping hook: reentrant invocation", kbslog.String("point", string(point)))
		return nil
	}

	path, shellArgs := resolveCommand(command, r.cfg.ConfigDir)
	cmd := exec.Command(path, append(shellArgs, args...)...)
	cmd.Dir = r.cfg.Store
	cmd.Env = r.environ()

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return kbserr.Wrap(err, "opening /dev/null for hook stdin/stdout")
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	cmd.Stdout = devnull

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)

	if err := cmd.Run(); err != nil {
		code := exitCode(err)
		return &kbserr.External{Command: command, Code: code, Stderr: strings.TrimSpace(stderrBuf.String())}
	}
	return nil
}

// reentrant reports whether this process is itself running inside a hook
// (KBS2_HOOK=1) and reentrant-hooks is not enabled, per spec.md §4.6.
func (r *Runner) reentrant() bool {
	return os.Getenv("KBS2_HOOK") == "1" && !r.cfg.ReentrantHooks
}

// environ builds the hook's environment: the parent's environment plus the
// additions spec.md §4.6 names.
func (r *Runner) environ() []string {
	env := os.Environ()
	env = append(env,
		"KBS2_HOOK=1",
		"KBS2_CONFIG_DIR="+r.cfg.ConfigDir,
		"KBS2_STORE="+r.cfg.Store,
		"KBS2_MAJOR_VERSION="+MajorVersion,
		"KBS2_MINOR_VERSION="+MinorVersion,
		"KBS2_PATCH_VERSION="+PatchVersion,
	)
	return env
}

// resolveCommand expands a configured hook value into an executable path
// and any leading shell arguments. A value containing whitespace is run
// through the system shell so users can write e.g. "notify-send done"; a
// single bare path is resolved directly (tilde-expanded, or relative to
// configDir) and exec'd without a shell.
func resolveCommand(command, configDir string) (string, []string) {
	if strings.ContainsAny(command, " \t") {
		return "sh", []string{"-c", command}
	}
	return resolvePath(command, configDir), nil
}

// resolvePath expands a leading "~" to $HOME and resolves a bare relative
// path against configDir, per spec.md §4.6.
func resolvePath(path, configDir string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// exitCode extracts the process exit status from an *exec.ExitError,
// falling back to 1 for any other failure (the command couldn't even
// start).
func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return 1
}

// CommandPoint formats a per-subcommand hook point for logging/diagnostics.
func CommandPoint(subcommand string, point Point) string {
	return fmt.Sprintf("commands.%s.%s", subcommand, point)
}
