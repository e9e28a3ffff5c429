package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/identity"
)

var (
	initForce              bool
	initInsecureNotWrapped bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new kbs2 configuration and identity",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration and identity")
	initCmd.Flags().BoolVar(&initInsecureNotWrapped, "insecure-not-wrapped", false, "store the identity unwrapped, without a master passphrase")
}

// runInit is excluded from the hook/session machinery entirely
// (spec.md §4.6 "Excluded subcommands"): it bootstraps the configuration
// those very subsystems depend on.
func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveConfigDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	configPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Fprintln(os.Stderr, "kbs2: configuration already exists at "+configPath+" (use --force to overwrite)")
		os.Exit(1)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	storeDir, err := config.StoreDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	keyPath := filepath.Join(dir, "key")
	_, unwrapped, err := identity.Generate(keyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer unwrapped.Close()

	if !initInsecureNotWrapped {
		entry := agentclient.TermPinentry{}
		passphrase, err := entry.Prompt("Enter a new master passphrase: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		confirm, err := entry.Prompt("Confirm master passphrase: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		if passphrase != confirm {
			fmt.Fprintln(os.Stderr, "kbs2: passphrases did not match")
			os.Exit(1)
		}
		if err := identity.Rewrap(unwrapped, keyPath, passphrase, true, false); err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
	}

	cfg := config.Default(dir)
	cfg.PublicKey = unwrapped.RecipientString()
	cfg.Keyfile = keyPath
	cfg.Wrapped = !initInsecureNotWrapped
	cfg.Store = storeDir

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
		os.Exit(1)
	}

	fmt.Printf("Initialized kbs2 configuration at %s\n", configPath)
	return nil
}
