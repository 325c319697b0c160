package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/codeanchor"
	"github.com/dsmmcken/scanflow/internal/sigmaker"
)

func addSigmakerCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "sigmaker hex-addr",
		Short: "Emit a unique wildcarded byte signature for the instruction at hex-addr",
		Args:  cobra.ExactArgs(1),
		RunE:  runSigmaker,
	}
	parent.AddCommand(cmd)
}

func runSigmaker(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseUint(args[0], 16, 64)
	if err != nil {
		return fmt.Errorf("hex-addr: %w", err)
	}
	ip := addr.Address(v)

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

	for _, m := range mods {
		sections, mode, err := codeanchor.ModuleSections(ctx, mem, m)
		if err != nil {
			continue
		}
		for _, sec := range sections {
			if ip < sec.Base || ip >= sec.Base.Add(sec.Size) {
				continue
			}
			pattern, err := sigmaker.Extract(ctx, mem, ip, sec.Base, sec.Size, sigmaker.Options{Mode: mode})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pattern.String())
			return nil
		}
	}
	return fmt.Errorf("sigmaker: %s is not inside any known executable section", ip)
}
