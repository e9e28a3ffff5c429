// Command kbs2 is a command-line secret manager backed by age encryption
// and a long-lived local agent that holds the unwrapped identity in memory.
package main

import (
	"os"

	"kbs2/internal/cli"
	"kbs2/internal/hooks"
)

// version is stamped into both cobra's --version output and every hook
// invocation's KBS2_*_VERSION triple.
const version = "0.1.0"

func init() {
	cli.Version = version
	hooks.MajorVersion, hooks.MinorVersion, hooks.PatchVersion = "0", "1", "0"
}

func main() {
	os.Exit(cli.Execute())
}
