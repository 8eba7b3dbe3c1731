// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/xdg"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML, secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err //nolint:wrapcheck // coded by config
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err //nolint:wrapcheck // terminal write
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the default config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(xdg.ConfigFile())
		},
	})

	return cmd
}
