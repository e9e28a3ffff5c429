package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/identity"
)

var rewrapNoBackup bool

// rewrapCmd is excluded from the hook/session machinery (spec.md §4.6
// "Excluded subcommands"): it mutates the very identity every other
// subcommand's session depends on, and runs before any agent session is
// opened against it.
var rewrapCmd = &cobra.Command{
	Use:   "rewrap",
	Short: "Change the master passphrase protecting the identity",
	RunE:  runRewrap,
}

func init() {
	rootCmd.AddCommand(rewrapCmd)
	rewrapCmd.Flags().BoolVar(&rewrapNoBackup, "no-backup", false, "don't keep the previous keyfile as <keyfile>.old")
}

func runRewrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	kf, err := identity.Load(cfg.Keyfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	entry := agentclient.TermPinentry{}

	oldPassphrase := ""
	if kf.Wrapped {
		oldPassphrase, err = entry.Prompt("Enter the current master passphrase: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
	}

	unwrapped, err := identity.Unwrap(kf, oldPassphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer unwrapped.Close()

	if err := rewrapWith(cfg, unwrapped); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	return nil
}

func rewrapWith(cfg *config.Config, unwrapped *identity.Unwrapped) error {
	entry := agentclient.TermPinentry{}
	newPassphrase, err := entry.Prompt("Enter a new master passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := entry.Prompt("Confirm new master passphrase: ")
	if err != nil {
		return err
	}
	if newPassphrase != confirm {
		return fmt.Errorf("passphrases did not match")
	}

	if err := identity.Rewrap(unwrapped, cfg.Keyfile, newPassphrase, true, !rewrapNoBackup); err != nil {
		return err
	}

	// The agent may still hold the identity unwrapped under the old
	// passphrase's keyfile classification; flush it so the next operation
	// re-unwraps against the new keyfile contents.
	flushStaleAgentIdentity(cfg)

	fmt.Println("Passphrase changed.")
	return nil
}

func flushStaleAgentIdentity(cfg *config.Config) {
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := agentclient.Connect(ctx, config.SocketPath(), false, fingerprint)
	if err != nil {
		return // agent not running: nothing to flush
	}
	defer sess.Close()
	_ = sess.Flush()
}
