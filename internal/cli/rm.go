package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/store"
)

var rmCmd = &cobra.Command{
	Use:   "rm <label>",
	Short: "Remove a record",
	Args:  cobra.ExactArgs(1),
	RunE: wrapRunE("rm", false, func(cfg *config.Config, _ *agentclient.Session, args []string) error {
		if err := store.Remove(cfg.Store, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed record: %s\n", args[0])
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
