package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kbs2/internal/agentclient"
	"kbs2/internal/config"
)

var generateName string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a configured generator and print the result",
	RunE: wrapRunE("generate", false, func(cfg *config.Config, _ *agentclient.Session, _ []string) error {
		gen, ok := cfg.Generator(generateName)
		if !ok {
			return fmt.Errorf("no such generator: %s", generateName)
		}
		secret, err := generatorGenerate(gen)
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateName, "name", "default", "generator name to use")
}
