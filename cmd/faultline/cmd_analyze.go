// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/faultlinehq/faultline/services/verify"
	"github.com/faultlinehq/faultline/services/verify/cfa"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	programPath := args[0]
	strategy, _ := cmd.Flags().GetString("strategy")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	watch, _ := cmd.Flags().GetBool("watch")
	output, _ := cmd.Flags().GetString("output")

	if output != "text" && output != "json" {
		return fmt.Errorf("unknown output format %q", output)
	}

	logger := newLogger("cli")
	defer logger.Close()

	svc := verify.NewService(cfg, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := func() error {
		prog, err := cfa.LoadProgram(programPath)
		if err != nil {
			return err
		}
		resp, err := svc.Analyze(ctx, &verify.AnalyzeRequest{
			Program:  prog,
			Strategy: strategy,
			NoCache:  noCache,
		})
		if err != nil {
			return err
		}
		return printResult(resp, output)
	}

	if err := run(); err != nil {
		if !watch {
			return err
		}
		// In watch mode a broken program is reported, not fatal: the
		// next save gets another chance.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if !watch {
		return nil
	}
	return watchAndRerun(ctx, programPath, logger.Slog(), run)
}

// watchAndRerun re-runs the analysis whenever the program file is
// written. Blocks until the context is cancelled.
func watchAndRerun(ctx context.Context, path string, log *slog.Logger, run func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file on save,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	log.Info("watching for changes", "path", path)

	var debounce *time.Timer
	rerun := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			// Editors emit bursts of events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case rerun <- struct{}{}:
				default:
				}
			})

		case <-rerun:
			log.Info("program changed, re-running analysis", "path", path)
			if err := run(); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)

		case <-ctx.Done():
			log.Info("watch stopped")
			return nil
		}
	}
}

// printResult writes one analysis outcome to stdout.
func printResult(resp *verify.AnalyzeResponse, output string) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("%s: %s", resp.Program, resp.Verdict)
	switch {
	case resp.Cached:
		fmt.Print(" (cached)")
	case !resp.Sound && resp.Verdict == "UNKNOWN":
		fmt.Print(" (budget exhausted)")
	case resp.Interrupted:
		fmt.Print(" (interrupted)")
	}
	fmt.Printf("  [%d tasks, %dms]\n", resp.Tasks, resp.ElapsedMS)

	if len(resp.Fault) > 0 {
		fmt.Println("Suspect statements:")
		for _, edge := range resp.Fault {
			fmt.Printf("  %s\n", edge)
		}
	}
	return nil
}
