package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
)

var editPreserveTimestamp bool

var editCmd = &cobra.Command{
	Use:   "edit <label>",
	Short: "Edit a record's raw JSON in an external editor",
	Args:  cobra.ExactArgs(1),
	RunE: wrapRunE("edit", true, func(cfg *config.Config, sess *agentclient.Session, args []string) error {
		return runEdit(cfg, sess, args[0])
	}),
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().BoolVar(&editPreserveTimestamp, "preserve-timestamp", false, "keep the record's original timestamp instead of refreshing it")
}

// runEdit decrypts label's record to a temp file, opens it in the
// configured (or $EDITOR) external editor, and re-encrypts the edited
// contents back over the original record (spec.md §3 "timestamp ... is
// refreshed on edit unless the caller requests preservation").
func runEdit(cfg *config.Config, sess *agentclient.Session, label string) error {
	rec, err := readRecord(cfg.Store, label, sess)
	if err != nil {
		return err
	}
	originalTimestamp := rec.Timestamp

	tmp, err := os.CreateTemp("", "kbs2-edit-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	plaintext, err := encodeRecordJSON(rec)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(plaintext); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	editor := cfg.CommandHook("edit").Editor
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		return fmt.Errorf("no editor configured: set commands.edit.editor or $EDITOR")
	}

	cmd := exec.Command(editor, tmpPath)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running editor %q: %w", editor, err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("reading edited record: %w", err)
	}
	newRec, err := decodeRecordJSON(edited)
	if err != nil {
		return err
	}
	newRec.Label = label
	if editPreserveTimestamp {
		newRec.Timestamp = originalTimestamp
	} else {
		newRec.Timestamp = nowUnix()
	}

	if err := writeRecord(cfg.Store, sess, newRec, true); err != nil {
		return err
	}
	fmt.Printf("Edited record: %s\n", label)
	return nil
}
