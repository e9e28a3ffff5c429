package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/recordenvelope"
	"kbs2/internal/store"
)

var dumpAll bool

var dumpCmd = &cobra.Command{
	Use:   "dump [label]",
	Short: "Print a record's decrypted JSON, or every record with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: wrapRunE("dump", true, func(cfg *config.Config, sess *agentclient.Session, args []string) error {
		if dumpAll {
			labels, err := store.List(cfg.Store)
			if err != nil {
				return err
			}
			for _, label := range labels {
				rec, err := readRecord(cfg.Store, label, sess)
				if err != nil {
					return err
				}
				if err := printRecordJSON(rec); err != nil {
					return err
				}
			}
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("dump requires a label, or --all")
		}
		rec, err := readRecord(cfg.Store, args[0], sess)
		if err != nil {
			return err
		}
		return printRecordJSON(rec)
	}),
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "dump every record in the store")
}

func printRecordJSON(rec recordenvelope.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
