package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/config"
	"github.com/dsmmcken/scanflow/internal/replsession"
)

func addReplCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start the persistent scan/print/write session loop",
		Args:  cobra.NoArgs,
		RunE:  runRepl,
	}
	parent.AddCommand(cmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	mem, enum, closeFn, err := openTarget(pidFlag, addrSizeFlag)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	sess := replsession.New(mem, enum, replsession.Options{
		Gap:      cfg.Scan.GapBytes,
		Parallel: cfg.Scan.Parallel,
		Workers:  cfg.Scan.WorkerCount,
	})

	return replsession.Run(context.Background(), sess, os.Stdin, os.Stdout)
}
