// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/config"
)

var (
	configPath string
	logLevel   string
	quiet      bool

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "faultline",
		Short: "Block-decomposed reachability analysis with fault localization",
		Long: `Faultline checks whether error locations of a program control-flow
automaton are reachable, and when they are, localizes the fault to a
minimal set of suspect statements.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			return nil
		},
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [program.yaml]",
		Short: "Analyze a program and report its verdict",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the verification HTTP API",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress log output, print only results")

	analyzeCmd.Flags().String("strategy", "",
		"fault-localization strategy override (single-core, max-sat)")
	analyzeCmd.Flags().Bool("no-cache", false,
		"skip the verdict cache")
	analyzeCmd.Flags().BoolP("watch", "w", false,
		"re-run the analysis whenever the program file changes")
	analyzeCmd.Flags().StringP("output", "o", "text",
		"output format (text, json)")

	serveCmd.Flags().String("addr", "",
		"listen address override (e.g. :8085)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the CLI logger. JSON output is used when stderr is
// not a terminal so piped logs stay machine-readable.
func newLogger(service string) *logging.Logger {
	jsonOut := cfg.Log.JSON
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		jsonOut = true
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: service,
		JSON:    jsonOut,
		Quiet:   quiet,
	})
}
