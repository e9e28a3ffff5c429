package cli

import (
	"fmt"
	"os"
	"os/exec"

	"kbs2/internal/config"
)

// builtinSubcommands names every first-token argument kbs2 itself handles;
// anything else dispatches to an external "kbs2-<name>" binary on PATH
// (spec.md §6 "Custom commands").
var builtinSubcommands = map[string]bool{
	"init": true, "new": true, "list": true, "rm": true, "dump": true,
	"pass": true, "env": true, "edit": true, "generate": true,
	"rewrap": true, "rekey": true, "config": true, "agent": true,
	"help": true, "completion": true, "--help": true, "-h": true,
	"--version": true,
}

// maybeDispatchExternal execs "kbs2-<name>" for an unrecognized first
// argument, inheriting std streams and propagating its exit code. Returns
// handled=false when the first argument is empty, a flag cobra should
// parse itself, or a recognized built-in.
func maybeDispatchExternal() (code int, handled bool) {
	if len(os.Args) < 2 {
		return 0, false
	}
	name := os.Args[1]
	if len(name) == 0 || name[0] == '-' || builtinSubcommands[name] {
		return 0, false
	}

	binary := "kbs2-" + name
	path, err := exec.LookPath(binary)
	if err != nil {
		return 0, false // not a known external subcommand either; let cobra report "unknown command"
	}

	dir, err := resolveConfigDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		return 1, true
	}
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		return 1, true
	}

	cmd := exec.Command(path, os.Args[2:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(),
		"KBS2_SUBCOMMAND=1",
		"KBS2_CONFIG_DIR="+cfg.Dir(),
		"KBS2_STORE="+cfg.Store,
	)

	// Exit code propagates, but any nonzero result collapses to 1
	// (spec.md §6 "Custom commands").
	if err := cmd.Run(); err != nil {
		return 1, true
	}
	return 0, true
}
