package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/identity"
	"kbs2/internal/recordenvelope"
)

// rekeyCmd is excluded from the hook/session machinery for the same reason
// as rewrap: it replaces the identity the session layer would otherwise
// acquire.
var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Generate a new identity and re-encrypt every record under it",
	RunE:  runRekey,
}

func init() {
	rootCmd.AddCommand(rekeyCmd)
}

func runRekey(cmd *cobra.Command, args []string) error {
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
	oldUnwrapped, err := identity.Unwrap(kf, oldPassphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer oldUnwrapped.Close()

	newKeyPath := cfg.Keyfile + ".new"
	_, newUnwrapped, err := identity.Generate(newKeyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer newUnwrapped.Close()

	manifest, rekeyErr := recordenvelope.Rekey(oldUnwrapped.Identity, newUnwrapped.Identity, newUnwrapped.Recipient(), cfg.Store)
	if rekeyErr != nil {
		fmt.Fprintf(os.Stderr, "kbs2: rekey failed after rewriting %d record(s), last attempted %q: %s\n",
			len(manifest.Rewritten), manifest.Failed, rekeyErr.Error())
		os.Exit(1)
	}

	if cfg.Wrapped {
		newPassphrase, err := entry.Prompt("Enter a new master passphrase for the new identity: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		confirm, err := entry.Prompt("Confirm new master passphrase: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		if newPassphrase != confirm {
			fmt.Fprintln(os.Stderr, "kbs2: passphrases did not match")
			os.Exit(1)
		}
		if err := identity.Rewrap(newUnwrapped, newKeyPath, newPassphrase, true, false); err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
	}

	if err := os.Rename(newKeyPath, cfg.Keyfile); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: replacing keyfile: "+err.Error())
		os.Exit(1)
	}

	if err := rewriteConfigPublicKey(cfg, newUnwrapped.RecipientString()); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	flushStaleAgentIdentity(cfg)

	fmt.Printf("Rekeyed %d record(s) under a new identity.\n", len(manifest.Rewritten))
	return nil
}
