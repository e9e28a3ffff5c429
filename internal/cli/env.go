package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/recordenvelope"
)

var envCmd = &cobra.Command{
	Use:   "env <label> [-- command [args...]]",
	Short: "Export an Environment record's variable, or run a command under it",
	Args:  cobra.MinimumNArgs(1),
	RunE: wrapRunE("env", true, func(cfg *config.Config, sess *agentclient.Session, args []string) error {
		rec, err := readRecord(cfg.Store, args[0], sess)
		if err != nil {
			return err
		}
		if rec.Body.Kind != recordenvelope.KindEnvironment {
			return fmt.Errorf("record %q is a %s, not an Environment", args[0], rec.Body.Kind)
		}
		variable, value := rec.Body.Fields["variable"], rec.Body.Fields["value"]

		if len(args) == 1 {
			fmt.Printf("export %s=%q\n", variable, value)
			return nil
		}

		cmd := exec.Command(args[1], args[2:]...)
		cmd.Env = append(os.Environ(), variable+"="+value)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("running %s: %w", args[1], err)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(envCmd)
}
