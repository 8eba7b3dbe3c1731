// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
)

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - account registration, login and password recovery",
		Long: `authd serves a JSON API for registering accounts, logging in and
recovering a forgotten password with a one-time code and reset token.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default $XDG_CONFIG_HOME/authd/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from its flags, the config
// file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag is registered on the root
	}
	return config.Load(cmd.Flags(), path)
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("authd %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}
}
