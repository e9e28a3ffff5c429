// Package config loads and resolves kbs2's TOML configuration, including
// XDG-based discovery of the config and store directories.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"kbs2/internal/generator"
	"kbs2/internal/kbserr"
)

// CommandHooks holds the per-subcommand hook overrides under
// commands.<name>.* in the TOML file.
type CommandHooks struct {
	PreHook  string `toml:"pre-hook"`
	PostHook string `toml:"post-hook"`
	// ClearHook only applies to "pass"; harmless no-op elsewhere.
	ClearHook string `toml:"clear-hook"`

	// new
	DefaultUsername string `toml:"default-username"`

	// pass
	ClipboardDuration int  `toml:"clipboard-duration"`
	ClearAfter        bool `toml:"clear-after"`

	// edit
	Editor string `toml:"editor"`
}

// GeneratorSpec is one [[generators]] table entry as read from TOML.
type GeneratorSpec struct {
	Name      string   `toml:"name"`
	Alphabets []string `toml:"alphabets"`
	Length    int      `toml:"length"`
	Command   string   `toml:"command"`
}

// Config is the fully-resolved kbs2 configuration for one config directory.
type Config struct {
	PublicKey       string `toml:"public-key"`
	Keyfile         string `toml:"keyfile"`
	Wrapped         bool   `toml:"wrapped"`
	Store           string `toml:"store"`
	Pinentry        string `toml:"pinentry"`
	AgentAutostart  bool   `toml:"agent-autostart"`
	PreHook         string `toml:"pre-hook"`
	PostHook        string `toml:"post-hook"`
	ErrorHook       string `toml:"error-hook"`
	ReentrantHooks  bool   `toml:"reentrant-hooks"`

	Commands   map[string]CommandHooks `toml:"commands"`
	Generators []GeneratorSpec         `toml:"generators"`

	// dir is the absolute path of the configuration directory this Config
	// was loaded from. It is not part of the TOML document.
	dir string
}

// Default returns a Config with every documented default applied (§6's
// table), for a config directory that has no config.toml yet (e.g. a fresh
// `init`).
func Default(dir string) *Config {
	return &Config{
		Wrapped:        true,
		AgentAutostart: true,
		ReentrantHooks: false,
		Commands:       map[string]CommandHooks{},
		dir:            dir,
	}
}

// ConfigDir returns the XDG-resolved config directory: $XDG_CONFIG_HOME/kbs2,
// or $HOME/.config/kbs2 if unset.
func ConfigDir() (string, error) {
	if v := os.Getenv("KBS2_CONFIG_DIR"); v != "" {
		return filepath.Abs(v)
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "kbs2"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", kbserr.NewConfigError("", fmt.Errorf("resolving home directory: %w", err))
	}
	return filepath.Join(home, ".config", "kbs2"), nil
}

// StoreDir returns the XDG-resolved default store directory:
// $XDG_DATA_HOME/kbs2, or $HOME/.local/share/kbs2 if unset.
func StoreDir() (string, error) {
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, "kbs2"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", kbserr.NewConfigError("", fmt.Errorf("resolving home directory: %w", err))
	}
	return filepath.Join(home, ".local", "share", "kbs2"), nil
}

// RuntimeDir returns the directory the agent socket is created under:
// $XDG_RUNTIME_DIR/kbs2, or os.TempDir()/kbs2 if unset.
func RuntimeDir() string {
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, "kbs2")
	}
	return filepath.Join(os.TempDir(), "kbs2")
}

// SocketPath returns the deterministic agent socket path (§4.3).
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "agent.sock")
}

// Load reads and parses config.toml from dir, applying documented defaults
// for any key the file omits.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.toml")
	cfg := Default(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kbserr.NewConfigError(path, fmt.Errorf("not initialized: run `kbs2 init`"))
		}
		return nil, kbserr.NewConfigError(path, err)
	}

	// Decode onto a copy of the defaults so TOML keys absent from the file
	// keep their documented default rather than Go's zero value.
	wrapped, autostart, reentrant := cfg.Wrapped, cfg.AgentAutostart, cfg.ReentrantHooks
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, kbserr.NewConfigError(path, fmt.Errorf("parsing TOML: %w", err))
	}
	if !keyPresent(data, "wrapped") {
		cfg.Wrapped = wrapped
	}
	if !keyPresent(data, "agent-autostart") {
		cfg.AgentAutostart = autostart
	}
	if !keyPresent(data, "reentrant-hooks") {
		cfg.ReentrantHooks = reentrant
	}
	cfg.dir = dir

	if cfg.PublicKey == "" {
		return nil, kbserr.NewConfigError(path, fmt.Errorf("missing required key: public-key"))
	}
	if cfg.Keyfile == "" {
		return nil, kbserr.NewConfigError(path, fmt.Errorf("missing required key: keyfile"))
	}
	if cfg.Store == "" {
		store, err := StoreDir()
		if err != nil {
			return nil, err
		}
		cfg.Store = store
	}
	if cfg.Pinentry == "" {
		cfg.Pinentry = "pinentry"
	}
	if cfg.Commands == nil {
		cfg.Commands = map[string]CommandHooks{}
	}
	if len(cfg.Generators) == 0 {
		cfg.Generators = []GeneratorSpec{{Name: "default", Alphabets: []string{generator.DefaultAlphabet}, Length: generator.DefaultLength}}
	}
	if !hasGenerator(cfg.Generators, "default") {
		cfg.Generators = append(cfg.Generators, GeneratorSpec{Name: "default", Alphabets: []string{generator.DefaultAlphabet}, Length: generator.DefaultLength})
	}

	return cfg, nil
}

// keyPresent does a cheap textual check for whether a top-level TOML key
// appears in the raw document, used only to distinguish "absent" from
// "explicitly false" for boolean keys whose default is true.
func keyPresent(data []byte, key string) bool {
	return containsKey(string(data), key)
}

func containsKey(doc, key string) bool {
	for _, line := range splitLines(doc) {
		trimmed := trimSpace(line)
		if len(trimmed) > len(key) && trimmed[:len(key)] == key {
			rest := trimSpace(trimmed[len(key):])
			if len(rest) > 0 && rest[0] == '=' {
				return true
			}
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t' || s[j-1] == '\r') {
		j--
	}
	return s[i:j]
}

func hasGenerator(specs []GeneratorSpec, name string) bool {
	for _, g := range specs {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Dir returns the absolute configuration directory this Config was loaded
// from (or created for, via Default).
func (c *Config) Dir() string { return c.dir }

// Fingerprint returns the canonical absolute path of the configuration
// directory — the identity key inside the agent (§4.4's "configuration
// fingerprint"). Two different config directories always yield two
// independent agent identities, even if they reference the same keyfile.
func (c *Config) Fingerprint() (string, error) {
	abs, err := filepath.Abs(c.dir)
	if err != nil {
		return "", kbserr.NewConfigError(c.dir, err)
	}
	return filepath.Clean(abs), nil
}

// CommandHook returns the hooks configured for a given subcommand name, or
// the zero value if none are configured.
func (c *Config) CommandHook(name string) CommandHooks {
	return c.Commands[name]
}

// Generator resolves a named generator, falling back to the built-in
// default when the config defines no generator with that name (only valid
// for the name "default" itself, since every other name must be explicit).
func (c *Config) Generator(name string) (generator.Generator, bool) {
	for _, g := range c.Generators {
		if g.Name == name {
			return generator.Generator{Name: g.Name, Alphabets: g.Alphabets, Length: g.Length, Command: g.Command}, true
		}
	}
	if name == "default" {
		return generator.Default(), true
	}
	return generator.Generator{}, false
}
