// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the API request JSON Schemas to schemas/.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/holomush/authd/internal/api"
)

func main() {
	outDir := "schemas"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := run(outDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(outDir string) error {
	schemas, err := api.GenerateSchemas()
	if err != nil {
		return fmt.Errorf("generating schemas: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		outPath := filepath.Join(outDir, name)
		if err := os.WriteFile(outPath, append(schemas[name], '\n'), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
	return nil
}
