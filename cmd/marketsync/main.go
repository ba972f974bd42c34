// Package main provides the entry point for the marketsync CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes reported to the scheduler.
const (
	exitOK         = 0
	exitFailure    = 1
	exitLockHeld   = 2
	exitLowQuality = 3
)

var rootCmd = &cobra.Command{
	Use:   "marketsync",
	Short: "Marketplace warehouse sync engine",
	Long:  "marketsync pulls catalog, inventory, and sales data from the seller API and loads it into a PostgreSQL warehouse as a locked, retried, dependency-aware workflow.",
}

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to JSON config file (optional; env vars fill the gaps)")
}

// exitError carries a process exit code out through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
}
