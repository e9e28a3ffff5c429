package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every record label in the store",
	RunE: wrapRunE("list", false, func(cfg *config.Config, _ *agentclient.Session, _ []string) error {
		labels, err := store.List(cfg.Store)
		if err != nil {
			return err
		}
		for _, label := range labels {
			fmt.Println(label)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(listCmd)
}
