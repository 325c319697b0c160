// Package cmd is the cobra CLI surface: a root command plus one-shot
// subcommands for the commands that don't need mutable session state
// between invocations, and a `repl` subcommand that hands off to
// internal/replsession for everything that does.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/config"
)

var (
	configDirFlag string
	pidFlag       int
	addrSizeFlag  int
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := newRootCmd()
	addReplCommand(root)
	addPointerMapCommand(root)
	addGlobalsCommand(root)
	addOffsetScanCommand(root)
	addSigmakerCommand(root)
	return root
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scanflow",
		Short:         "Live-memory introspection and reverse-engineering toolkit",
		Long:          "scanflow scans, maps, and resolves pointer chains in a running target process.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if pidFlag <= 0 {
				return fmt.Errorf("--pid is required")
			}
			if addrSizeFlag != 4 && addrSizeFlag != 8 {
				return fmt.Errorf("--addr-size must be 4 or 8")
			}
			config.SetConfigDir(configDirFlag)
			return nil
		},
	}

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&configDirFlag, "config-dir", "", "override config directory (default: ~/.scanflow)")
	pflags.IntVar(&pidFlag, "pid", 0, "target process id")
	pflags.IntVar(&addrSizeFlag, "addr-size", 8, "target pointer width in bytes (4 or 8)")

	return rootCmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
