package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// varPattern matches $$, ${NAME} and ${NAME:-fallback}.
var varPattern = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the YAML file at path, substitutes environment variables,
// decodes it strictly and applies defaults. Unknown top-level or section
// keys are errors; module sections are decoded later by their modules.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	expanded, err := substituteEnv(raw, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// substituteEnv replaces variable references using lookup. "$$" yields a
// literal "$". Every variable that is unset and has no fallback is
// reported in one error.
func substituteEnv(raw []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		if string(match) == "$$" {
			return []byte("$")
		}
		groups := varPattern.FindSubmatch(match)
		name := string(groups[1])
		if v, ok := lookup(name); ok {
			return []byte(v)
		}
		if groups[2] != nil || bytes.Contains(match, []byte(":-")) {
			return groups[2]
		}
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
