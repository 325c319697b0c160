package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/codeanchor"
)

func addGlobalsCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "globals",
		Short: "Disassemble loaded modules and print the IP-relative global-reference map",
		Args:  cobra.NoArgs,
		RunE:  runGlobals,
	}
	parent.AddCommand(cmd)
}

func runGlobals(cmd *cobra.Command, args []string) error {
	mem, enum, closeFn, err := openTarget(pidFlag, addrSizeFlag)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	mods, err := enum.Modules(ctx)
	if err != nil {
		return err
	}

	extract := codeanchor.New(codeanchor.Options{})
	if err := extract.CollectGlobals(ctx, mem, mods); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ref := range extract.Globals() {
		fmt.Fprintf(out, "%s -> %s\n", ref.IP, ref.Target)
	}
	return nil
}
