package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/config"
	"github.com/dsmmcken/scanflow/internal/pointermap"
)

func addPointerMapCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "pointer-map",
		Short: "Build the pointer map over the target's mapped memory and print its size",
		Args:  cobra.NoArgs,
		RunE:  runPointerMap,
	}
	parent.AddCommand(cmd)
}

func runPointerMap(cmd *cobra.Command, args []string) error {
	mem, _, closeFn, err := openTarget(pidFlag, addrSizeFlag)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pm := pointermap.New(pointermap.Options{Gap: cfg.Scan.GapBytes, Parallel: cfg.Scan.Parallel, Workers: cfg.Scan.WorkerCount})
	if err := pm.Build(context.Background(), mem); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pointer map: %d forward entries\n", pm.Len())
	return nil
}
