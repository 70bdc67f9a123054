package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	rootCmd    = &cobra.Command{
		Use:   "regress",
		Short: "hdl-regress - randomized regression runner with cumulative coverage",
		Long: `hdl-regress discovers simulation test units, runs each of them repeatedly
with fresh random seeds on a bounded worker pool, collects per-run coverage
and merges it into one cumulative coverage database.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: regress.toml upwards, then ~/.config/hdl-regress/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every tool invocation")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
