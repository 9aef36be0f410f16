// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	depth     int
	poolClass string
	arenaSize uint64
	trigger   uint64
	verbose   bool
	dumpStats bool
)

var rootCmd = &cobra.Command{
	Use:   "binarytrees",
	Short: "Allocate and check binary trees in managed memory",
	Long: `binarytrees builds a stretch tree, a long-lived tree and many short-lived
trees of increasing depth, checking each one by counting its nodes.

Example:
  binarytrees --depth 16
  binarytrees --depth 12 --pool amc --verbose
  binarytrees --metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := benchConfig{
			depth:     depth,
			pool:      poolClass,
			arenaSize: uintptr(arenaSize),
			trigger:   uintptr(trigger),
			logger:    newLogger(),
		}
		if dumpStats {
			cfg.metrics = cmd.ErrOrStderr()
		}
		return runBench(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.Flags().IntVarP(&depth, "depth", "n", 10, "Maximum tree depth")
	rootCmd.Flags().StringVar(&poolClass, "pool", "ams", "Pool class: ams or amc")
	rootCmd.Flags().Uint64Var(&arenaSize, "arena-size", 32<<20, "Bytes of address space to reserve")
	rootCmd.Flags().Uint64Var(&trigger, "trigger", 4<<20, "Bytes allocated between collections (0 disables)")
	rootCmd.Flags().BoolVar(&dumpStats, "metrics", false, "Print arena metrics in Prometheus text format to stderr")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log collector activity to stderr")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
