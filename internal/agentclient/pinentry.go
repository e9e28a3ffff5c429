package agentclient

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/term"

	"kbs2/internal/kbserr"
)

// Pinentry obtains a master passphrase from the user. The core never reads
// a passphrase on its own terminal-handling code path except as the
// fallback below; the primary collaborator is an external pinentry binary
// configured via the "pinentry" config key.
type Pinentry interface {
	Prompt(prompt string) (string, error)
}

// ExecPinentry shells out to the configured pinentry binary. This is the
// real external collaborator named in spec §1/§6; the core only knows it as
// "a program that, given a prompt, returns a passphrase on stdout."
type ExecPinentry struct {
	Binary string
}

// Prompt runs the pinentry binary and returns the trimmed passphrase it
// writes to stdout.
func (p ExecPinentry) Prompt(prompt string) (string, error) {
	if p.Binary == "" {
		return "", kbserr.NewConfigError("pinentry", fmt.Errorf("no pinentry binary configured"))
	}
	cmd := exec.Command(p.Binary)
	cmd.Env = append(os.Environ(), "KBS2_PINENTRY_PROMPT="+prompt)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pinentry %s: %w", p.Binary, err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

// TermPinentry reads the passphrase directly from the controlling terminal
// without echo, falling back to a plain buffered read when stdin isn't a
// terminal (piped input, e.g. in scripted tests). init, rewrap and rekey
// prompt through it directly; a session uses it only when the config's
// pinentry value is empty, which config.Load never leaves (it defaults to
// "pinentry"). A configured binary that is missing is not replaced by it.
type TermPinentry struct{}

func (TermPinentry) Prompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(pw, "\r\n"), nil
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}
