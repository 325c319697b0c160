package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/codeanchor"
	"github.com/dsmmcken/scanflow/internal/config"
	"github.com/dsmmcken/scanflow/internal/pointermap"
	"github.com/dsmmcken/scanflow/internal/resolver"
)

var (
	offsetScanTargets []string
)

func addOffsetScanCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "offset-scan y|n lower upper max-depth [filter-hex]",
		Short: "Resolve offset chains from anchors to a set of target addresses",
		Args:  cobra.RangeArgs(4, 5),
		RunE:  runOffsetScan,
	}
	cmd.Flags().StringSliceVar(&offsetScanTargets, "target", nil, "hex address to resolve chains for (repeatable)")
	parent.AddCommand(cmd)
}

func runOffsetScan(cmd *cobra.Command, args []string) error {
	useCodeAnchors := args[0] == "y"
	if !useCodeAnchors && args[0] != "n" {
		return fmt.Errorf("first argument must be y or n")
	}
	lower, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("lower: %w", err)
	}
	upper, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("upper: %w", err)
	}
	maxDepth, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("max-depth: %w", err)
	}
	var filter addr.Address
	hasFilter := false
	if len(args) == 5 {
		v, err := strconv.ParseUint(args[4], 16, 64)
		if err != nil {
			return fmt.Errorf("filter-hex: %w", err)
		}
		filter = addr.Address(v)
		hasFilter = true
	}
	if len(offsetScanTargets) == 0 {
		return fmt.Errorf("at least one --target is required")
	}

	var targets []addr.Address
	for _, t := range offsetScanTargets {
		v, err := strconv.ParseUint(t, 16, 64)
		if err != nil {
			return fmt.Errorf("--target %q: %w", t, err)
		}
		targets = append(targets, addr.Address(v))
	}

	mem, enum, closeFn, err := openTarget(pidFlag, addrSizeFlag)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pm := pointermap.New(pointermap.Options{Gap: cfg.Scan.GapBytes, Parallel: cfg.Scan.Parallel, Workers: cfg.Scan.WorkerCount})
	if err := pm.Build(ctx, mem); err != nil {
		return err
	}

	var anchors []addr.Address
	if useCodeAnchors {
		mods, err := enum.Modules(ctx)
		if err != nil {
			return err
		}
		extract := codeanchor.New(codeanchor.Options{})
		if err := extract.CollectGlobals(ctx, mem, mods); err != nil {
			return err
		}
		for _, ref := range extract.Globals() {
			anchors = append(anchors, ref.Target)
		}
		sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })
	} else {
		anchors = pm.Keys()
	}

	r := resolver.New(pm, anchors, resolver.Options{Lower: lower, Upper: upper, MaxDepth: maxDepth})
	chains := r.Resolve(targets)

	out := cmd.OutOrStdout()
	for _, c := range chains {
		if hasFilter && (len(c.Steps) == 0 || c.Steps[0].Node != filter) {
			continue
		}
		fmt.Fprintf(out, "%s: ", c.Target)
		for i, step := range c.Steps {
			if i > 0 {
				fmt.Fprint(out, " -> ")
			}
			fmt.Fprintf(out, "(%s, %+d)", step.Node, step.Offset)
		}
		fmt.Fprintln(out)
	}
	return nil
}
