// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves authd's XDG Base Directory paths.
package xdg

import (
	"os"
	"path/filepath"
)

const (
	appName        = "authd"
	configFileName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/authd, falling back to ~/.config/authd.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), configFileName)
}
