// Package session implements the per-subcommand orchestrator state machine
// from spec.md §4.7: load config, acquire an agent session, run hooks
// around the subcommand's operation, and map any failure to an exit code.
package session

import (
	"kbs2/internal/hooks"
	"kbs2/internal/kbserr"
)

// State names one node of the §4.7 state diagram.
type State string

const (
	StateStart          State = "Start"
	StateLoadConfig     State = "LoadConfig"
	StateAcquireSession State = "AcquireSession"
	StatePreHooks       State = "PreHooks"
	StateOperate        State = "Operate"
	StatePostHooks      State = "PostHooks"
	StateDone           State = "Done"
)

// excluded names the bootstrap subcommands that never trigger global
// pre/post/error hooks (spec.md §4.6 "Excluded subcommands").
var excluded = map[string]bool{
	"init":  true,
	"agent": true,
	"help":  true,
	"":      true,
}

// ExcludedFromHooks reports whether subcommand is one of the bootstrap
// operations that never trigger global hooks. The "agent" subtree
// (agent flush, agent unwrap, agent query) is excluded as a whole: callers
// should pass only the first token.
func ExcludedFromHooks(subcommand string) bool {
	return excluded[subcommand]
}

// Invocation drives one subcommand's lifecycle through the state machine in
// spec.md §4.7. HookRunner and the global/command hook command strings are
// supplied by the caller (internal/config has already resolved them);
// Invocation only sequences when they fire.
type Invocation struct {
	Subcommand string
	Runner     *hooks.Runner

	GlobalPreHook   string
	GlobalPostHook  string
	GlobalErrorHook string
	CommandPreHook  string
	CommandPostHook string

	state State
	err   error
}

// New builds an Invocation for subcommand.
func New(subcommand string, runner *hooks.Runner) *Invocation {
	return &Invocation{Subcommand: subcommand, Runner: runner, state: StateStart}
}

// State returns the invocation's current state, for tests and diagnostics.
func (inv *Invocation) State() State { return inv.state }

// RunPreHooks runs the global pre-hook then the subcommand's pre-hook, in
// that order, stopping at the first failure (spec.md §4.7: "failure inside
// a hook skips all later hooks in the same phase"). Excluded subcommands
// run neither.
func (inv *Invocation) RunPreHooks() error {
	inv.state = StatePreHooks
	if ExcludedFromHooks(inv.Subcommand) {
		return nil
	}
	if err := inv.Runner.Run(hooks.PreGlobal, inv.GlobalPreHook); err != nil {
		return inv.fail(err)
	}
	if err := inv.Runner.Run(hooks.PreCommand, inv.CommandPreHook); err != nil {
		return inv.fail(err)
	}
	return nil
}

// RunPostHooks runs the global post-hook then the subcommand's post-hook,
// in that order, stopping at the first failure.
func (inv *Invocation) RunPostHooks() error {
	inv.state = StatePostHooks
	if ExcludedFromHooks(inv.Subcommand) {
		return nil
	}
	if err := inv.Runner.Run(hooks.PostGlobal, inv.GlobalPostHook); err != nil {
		return inv.fail(err)
	}
	if err := inv.Runner.Run(hooks.PostCommand, inv.CommandPostHook); err != nil {
		return inv.fail(err)
	}
	return nil
}

// RunErrorHook runs the global error-hook with the human-readable message
// from failureErr, for any failure reached from any state. Excluded
// subcommands still run it: §4.6 says error-hook is only skipped by
// reentrancy, never by subcommand exclusion, and a bootstrap operation can
// still fail before it would have entered the excluded hook points.
func (inv *Invocation) RunErrorHook(failureErr error) {
	if failureErr == nil {
		return
	}
	_ = inv.Runner.Run(hooks.ErrorGlobal, inv.GlobalErrorHook, failureErr.Error())
}

// fail records err as the invocation's terminal failure and returns it
// unchanged, so callers can `return inv.fail(err)` at each state transition.
func (inv *Invocation) fail(err error) error {
	inv.err = err
	return err
}

// Err returns the invocation's terminal failure, if any.
func (inv *Invocation) Err() error { return inv.err }

// ExitCode maps err to a process exit code per spec.md §7: 0 on success, 1
// for any surfaced error. 2 is reserved for argument-parsing failures,
// which cobra raises before an Invocation is ever constructed.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// KindOf is a thin re-export so callers that only import internal/session
// can still attribute a failure to one of the documented error kinds for
// diagnostics.
func KindOf(err error) kbserr.Kind { return kbserr.KindOf(err) }
