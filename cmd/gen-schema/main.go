// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Command gen-schema writes the plugin manifest JSON Schema.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/patchbay/patchbay/internal/plugin"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	out := fs.StringP("out", "o", filepath.Join("schemas", "plugin.schema.json"), "output file")
	check := fs.Bool("check", false, "fail if the output file is missing or out of date instead of writing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if *check {
		current, err := os.ReadFile(*out)
		if err != nil {
			return fmt.Errorf("reading %s: %w", *out, err)
		}
		if !bytes.Equal(current, schema) {
			return fmt.Errorf("%s is out of date; run gen-schema", *out)
		}
		fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Generated %s (%s)\n", *out, plugin.SchemaID)
	return nil
}
