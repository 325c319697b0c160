//go:build linux

package cmd

import (
	"github.com/dsmmcken/scanflow/internal/target"
	"github.com/dsmmcken/scanflow/internal/target/procfs"
)

// openTarget attaches the procfs adapter to --pid, the only memory
// provider adapter this repo ships a real implementation for.
func openTarget(pid, addrSize int) (target.Memory, target.ModuleEnumerator, func() error, error) {
	p, err := procfs.Open(pid, addrSize)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, p, p.Close, nil
}
