package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/recordenvelope"
)

var passCmd = &cobra.Command{
	Use:   "pass <label>",
	Short: "Print a Login record's password",
	Args:  cobra.ExactArgs(1),
	RunE: wrapRunE("pass", true, func(cfg *config.Config, sess *agentclient.Session, args []string) error {
		rec, err := readRecord(cfg.Store, args[0], sess)
		if err != nil {
			return err
		}
		if rec.Body.Kind != recordenvelope.KindLogin {
			return fmt.Errorf("record %q is a %s, not a Login", args[0], rec.Body.Kind)
		}
		fmt.Println(rec.Body.Fields["password"])
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(passCmd)
}
