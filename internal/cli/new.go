package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
	"kbs2/internal/recordenvelope"
	"kbs2/internal/store"
)

var (
	newEnvironment  bool
	newUnstructured bool
	newUsername     string
	newPassword     string
	newVariable     string
	newValue        string
	newContents     string
	newForce        bool
	newGenerate     string
)

var newCmd = &cobra.Command{
	Use:   "new <label>",
	Short: "Create a new record",
	Args:  cobra.ExactArgs(1),
	RunE: wrapRunE("new", true, func(cfg *config.Config, sess *agentclient.Session, args []string) error {
		return runNew(cfg, sess, args[0])
	}),
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVar(&newEnvironment, "environment", false, "create an Environment record instead of a Login")
	newCmd.Flags().BoolVar(&newUnstructured, "unstructured", false, "create an Unstructured record instead of a Login")
	newCmd.Flags().StringVar(&newUsername, "username", "", "Login username (prompted on stdin if omitted)")
	newCmd.Flags().StringVar(&newPassword, "password", "", "Login password (prompted on stdin if omitted)")
	newCmd.Flags().StringVar(&newVariable, "variable", "", "Environment variable name")
	newCmd.Flags().StringVar(&newValue, "value", "", "Environment variable value")
	newCmd.Flags().StringVar(&newContents, "contents", "", "Unstructured contents")
	newCmd.Flags().BoolVar(&newForce, "force", false, "overwrite an existing record with the same label")
	newCmd.Flags().StringVar(&newGenerate, "generate", "", "use this named generator to produce the Login password")
}

func runNew(cfg *config.Config, sess *agentclient.Session, label string) error {
	if err := store.ValidateLabel(label); err != nil {
		return err
	}
	if !newForce && store.Exists(cfg.Store, label) {
		return fmt.Errorf("record %q already exists (use --force to overwrite)", label)
	}

	rec, err := buildNewRecord(cfg, label)
	if err != nil {
		return err
	}

	if err := writeRecord(cfg.Store, sess, rec, true); err != nil {
		return err
	}

	fmt.Printf("Created record: %s\n", label)
	return nil
}

func buildNewRecord(cfg *config.Config, label string) (recordenvelope.Record, error) {
	now := nowUnix()

	switch {
	case newEnvironment:
		if newVariable == "" || newValue == "" {
			variable, value, err := readTwoLines("variable", "value")
			if err != nil {
				return recordenvelope.Record{}, err
			}
			newVariable, newValue = variable, value
		}
		return recordenvelope.NewEnvironment(label, newVariable, newValue, now), nil

	case newUnstructured:
		contents := newContents
		if contents == "" {
			line, err := readOneLine("contents")
			if err != nil {
				return recordenvelope.Record{}, err
			}
			contents = line
		}
		return recordenvelope.NewUnstructured(label, contents, now), nil

	default:
		username := newUsername
		if username == "" {
			username = cfg.CommandHook("new").DefaultUsername
		}
		password := newPassword
		if newGenerate != "" {
			gen, ok := cfg.Generator(newGenerate)
			if !ok {
				return recordenvelope.Record{}, fmt.Errorf("no such generator: %s", newGenerate)
			}
			generated, err := generatorGenerate(gen)
			if err != nil {
				return recordenvelope.Record{}, err
			}
			password = generated
		}
		if username == "" || password == "" {
			u, p, err := readTwoLines("username", "password")
			if err != nil {
				return recordenvelope.Record{}, err
			}
			if username == "" {
				username = u
			}
			if password == "" {
				password = p
			}
		}
		return recordenvelope.NewLogin(label, username, password, now), nil
	}
}

func readOneLine(fieldName string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", fieldName)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("reading %s: %w", fieldName, scanner.Err())
	}
	return scanner.Text(), nil
}

func readTwoLines(first, second string) (string, string, error) {
	a, err := readOneLine(first)
	if err != nil {
		return "", "", err
	}
	b, err := readOneLine(second)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}
