// Package generator implements kbs2's password generators: the built-in
// alphabet-sampling generator and the external-command generator, both
// configured under a config's [[generators]] table.
package generator

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"os/exec"
	"strings"
)

// DefaultAlphabet is the printable character set used by the generator
// named "default" when a config doesn't define one.
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+"

// DefaultLength is the length of the built-in "default" generator.
const DefaultLength = 16

// Generator is a single [[generators]] entry. Exactly one of Alphabets or
// Command should be set: an internal generator samples characters, a
// command generator shells out and trims stdout.
type Generator struct {
	Name      string
	Alphabets []string // internal: one or more alphabets to sample from
	Length    int       // internal: total output length
	Command   string    // command: shell command producing the secret on stdout
}

// IsCommand reports whether g is a command generator rather than internal.
func (g Generator) IsCommand() bool {
	return g.Command != ""
}

// Default returns the built-in "default" generator used when a config has
// no [[generators]] entry named "default".
func Default() Generator {
	return Generator{Name: "default", Alphabets: []string{DefaultAlphabet}, Length: DefaultLength}
}

// Generate produces a secret for g. For an internal generator, it draws
// exactly one byte from each configured alphabet, fills the remainder of
// Length from the concatenation of all alphabets, then Fisher-Yates
// shuffles the result using crypto/rand for every swap index — the
// "cryptographically seeded shuffle" the generator contract requires. For a
// command generator, it runs Command through the system shell and returns
// stdout with trailing whitespace trimmed. Alphabets are sampled as byte
// strings, so a multi-byte UTF-8 character in an alphabet is not kept whole.
func Generate(g Generator) (string, error) {
	if g.IsCommand() {
		return runCommand(g.Command)
	}
	return sampleAlphabets(g.Alphabets, g.Length)
}

func sampleAlphabets(alphabets []string, length int) (string, error) {
	if len(alphabets) == 0 {
		return "", fmt.Errorf("generator has no alphabets configured")
	}
	if length < len(alphabets) {
		return "", fmt.Errorf("generator length %d is shorter than its %d alphabets", length, len(alphabets))
	}

	var all strings.Builder
	for _, a := range alphabets {
		if a == "" {
			return "", fmt.Errorf("generator alphabet must not be empty")
		}
		all.WriteString(a)
	}
	pool := all.String()

	out := make([]byte, 0, length)
	for _, a := range alphabets {
		c, err := randomChar(a)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(pool)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("crypto/rand failure: %w", err)
	}
	return alphabet[n.Int64()], nil
}

// shuffle performs an in-place Fisher-Yates shuffle of b, drawing every swap
// index from crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("crypto/rand failure: %w", err)
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}

func runCommand(command string) (string, error) {
	cmd := exec.Command("sh", "-c", command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("generator command %q: %w", command, err)
	}
	return strings.TrimRight(stdout.String(), " \t\r\n"), nil
}
