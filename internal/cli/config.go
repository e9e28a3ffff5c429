package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"kbs2/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect kbs2 configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the resolved configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "kbs2: "+err.Error())
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// rewriteConfigPublicKey updates cfg's public-key in both memory and its
// on-disk config.toml, for "rekey" after the identity has been replaced.
func rewriteConfigPublicKey(cfg *config.Config, publicKey string) error {
	cfg.PublicKey = publicKey

	configPath := filepath.Join(cfg.Dir(), "config.toml")
	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("rewriting config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("rewriting config: %w", err)
	}
	return nil
}
