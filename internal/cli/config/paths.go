package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigDir is $XBASTION_HOME, or ~/.xbastion.
func DefaultConfigDir() string {
	if v := os.Getenv("XBASTION_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".xbastion")
}

// DefaultConfigPath is $XBASTION_CONFIG, or config under DefaultConfigDir.
func DefaultConfigPath() string {
	if v := os.Getenv("XBASTION_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(DefaultConfigDir(), "config")
}
