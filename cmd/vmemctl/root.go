package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/behnood-eghbali/vmemkit/internal/hostkern"
	"github.com/behnood-eghbali/vmemkit/internal/simkern"
	"github.com/behnood-eghbali/vmemkit/vmem/kern"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	backend string
)

var rootCmd = &cobra.Command{
	Use:   "vmemctl",
	Short: "Inspect and exercise the vmem virtual-memory provider",
	Long: `vmemctl is a diagnostic tool for the vmem provider. It reports the
active backend's page size and root region, and can run a full
reserve/carve/map/decommit exercise to verify the placement and
reservation machinery on this host.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&backend, "backend", "auto", "Kernel backend: auto, host or sim")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openKernel picks the kernel backend for this invocation.
func openKernel() (kern.Kernel, error) {
	switch backend {
	case "host":
		return hostkern.New()
	case "sim":
		return simkern.New(), nil
	case "auto":
		if k, err := hostkern.New(); err == nil {
			return k, nil
		}
		return simkern.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want auto, host or sim)", backend)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
