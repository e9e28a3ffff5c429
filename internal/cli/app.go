// Package cli wires kbs2's cobra subcommands to the core: it loads
// configuration, drives the session orchestrator's pre/post/error hook
// phases, and calls into the agent client, record envelope, and store
// packages to perform each subcommand's operation. Flag definitions here
// are the minimal glue needed to exercise the core (spec.md §1 treats full
// argument parsing and field-prompting UI as external collaborators).
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/hooks"
	"kbs2/internal/kbslog"
	"kbs2/internal/session"
)

// Version is set by cmd/kbs2/main.go at build time and stamped into every
// hook's environment (spec.md §4.6/§6's KBS2_*_VERSION triple).
var Version = "0.0.0"

var (
	flagConfigDir string
	flagVerbose   bool
)

// rootCmd is kbs2's base command.
var rootCmd = &cobra.Command{
	Use:           "kbs2",
	Short:         "A command-line secret manager backed by age encryption",
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigDir, "config-dir", "c", "", "configuration directory (overrides XDG discovery)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging to stderr")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			kbslog.EnableDebugLogging()
		}
	}
}

// Execute runs the CLI, mapping any returned error to the documented exit
// code (spec.md §7/§6) and unknown subcommands to external-command dispatch
// (spec.md §6 "Custom commands"). Every built-in subcommand's RunE exits the
// process directly via run's exit-code mapping, so a non-nil error reaching
// here means cobra itself rejected the invocation (unknown flag, wrong
// arity) before any RunE ran — exit code 2, reserved for argument parsing.
func Execute() int {
	if code, handled := maybeDispatchExternal(); handled {
		return code
	}
	if err := rootCmd.Execute(); err != nil {
		return 2
	}
	return 0
}

// resolveConfigDir applies spec.md §6's discovery precedence: -c flag,
// then KBS2_CONFIG_DIR (handled inside config.ConfigDir for nested/hook
// invocations), then XDG default.
func resolveConfigDir() (string, error) {
	if flagConfigDir != "" {
		return filepath.Abs(flagConfigDir)
	}
	return config.ConfigDir()
}

// loadConfig resolves the config directory and loads its config.toml.
func loadConfig() (*config.Config, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return nil, err
	}
	return config.Load(dir)
}

// pinentryFor returns the Pinentry collaborator for cfg: the configured
// external binary, or a direct terminal prompt if cfg.Pinentry is empty.
// config.Load defaults an absent pinentry key to "pinentry", so a loaded
// config always selects the external binary.
func pinentryFor(cfg *config.Config) agentclient.Pinentry {
	if cfg.Pinentry == "" {
		return agentclient.TermPinentry{}
	}
	return agentclient.ExecPinentry{Binary: cfg.Pinentry}
}

// openSession connects to (auto-spawning if needed) the agent and ensures
// cfg's identity is unwrapped, prompting for the master passphrase via
// pinentry if it isn't already loaded (spec.md §4.5).
func openSession(cfg *config.Config) (*agentclient.Session, error) {
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return agentclient.Open(ctx, config.SocketPath(), cfg.AgentAutostart, fingerprint, cfg.Keyfile, newFileKeyReader(cfg.Keyfile), pinentryFor(cfg))
}

// runnerFor builds the hook runner for cfg.
func runnerFor(cfg *config.Config) *hooks.Runner {
	return hooks.NewRunner(hooks.Config{
		ConfigDir:      cfg.Dir(),
		Store:          cfg.Store,
		ReentrantHooks: cfg.ReentrantHooks,
	})
}

// invocationFor builds a session.Invocation for subcommand, wiring its
// global and per-subcommand hook commands out of cfg.
func invocationFor(subcommand string, cfg *config.Config) *session.Invocation {
	ch := cfg.CommandHook(subcommand)
	inv := session.New(subcommand, runnerFor(cfg))
	inv.GlobalPreHook = cfg.PreHook
	inv.GlobalPostHook = cfg.PostHook
	inv.GlobalErrorHook = cfg.ErrorHook
	inv.CommandPreHook = ch.PreHook
	inv.CommandPostHook = ch.PostHook
	return inv
}

// operation is what each subcommand's glue performs once a session has
// been acquired (or immediately, for subcommands excluded from hooks and
// the agent session, like "init"). args are the subcommand's positional
// arguments, passed straight through from cobra.
type operation func(cfg *config.Config, sess *agentclient.Session, args []string) error

// run drives the full state machine from spec.md §4.7 for subcommand: load
// config, acquire a session, run pre-hooks, perform op, run post-hooks (or
// the error-hook on any failure), and return the failure, if any, for
// wrapRunE to map to an exit code.
func run(subcommand string, needsSession bool, op operation, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		runErrorHookStandalone(subcommand, cfg, err)
		return fail(err)
	}

	var sess *agentclient.Session
	if needsSession {
		sess, err = openSession(cfg)
		if err != nil {
			runInvocation(subcommand, cfg).RunErrorHook(err)
			return fail(err)
		}
		defer sess.Close()
	}

	inv := runInvocation(subcommand, cfg)
	if err := inv.RunPreHooks(); err != nil {
		inv.RunErrorHook(err)
		return fail(err)
	}

	if err := op(cfg, sess, args); err != nil {
		inv.RunErrorHook(err)
		return fail(err)
	}

	if err := inv.RunPostHooks(); err != nil {
		inv.RunErrorHook(err)
		return fail(err)
	}
	return nil
}

func runInvocation(subcommand string, cfg *config.Config) *session.Invocation {
	return invocationFor(subcommand, cfg)
}

// runErrorHookStandalone is the error-hook path for a failed config load.
// It runs nothing when cfg is nil, and config.Load returns a nil cfg with
// every error, so a config-load failure runs no error-hook. When it does
// run a hook, failures within it are not escalated.
func runErrorHookStandalone(subcommand string, cfg *config.Config, err error) {
	if cfg == nil || session.ExcludedFromHooks(subcommand) {
		return
	}
	runnerFor(cfg).Run(hooks.ErrorGlobal, cfg.ErrorHook, err.Error())
}

// fail prints err as a single human-readable line to stderr and returns it,
// matching spec.md §7's "errors are printed to stderr as a single
// human-readable line."
func fail(err error) error {
	fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
	return err
}

// wrapRunE adapts run into a cobra RunE: a subcommand failure exits the
// process directly with session.ExitCode's mapping, since by the time an
// error reaches here it has already been printed and any error-hook has
// already run.
func wrapRunE(subcommand string, needsSession bool, op operation) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := run(subcommand, needsSession, op, args); err != nil {
			os.Exit(session.ExitCode(err))
		}
		return nil
	}
}
