package config

import (
	"errors"
	"os"
	"path/filepath"
)

// FileName is the default configuration file name.
const FileName = "fanyi.yaml"

// ErrNotFound is returned by Find when no configuration file exists in any
// search path.
var ErrNotFound = errors.New("config: no configuration file found")

// SearchPaths returns the configuration file locations in lookup order:
// $XDG_CONFIG_HOME/fanyi, ~/.config/fanyi, then the working directory.
func SearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "fanyi", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fanyi", FileName))
	}
	return append(paths, FileName)
}

// Find returns the first existing configuration file from SearchPaths.
func Find() (string, error) {
	for _, p := range SearchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// DefaultPath is where a new configuration file is written.
func DefaultPath() string {
	return SearchPaths()[0]
}

// DataDir returns the directory for persistent data: $XDG_DATA_HOME/fanyi
// or ~/.local/share/fanyi.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fanyi")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "fanyi")
	}
	return filepath.Join(".", ".fanyi")
}
