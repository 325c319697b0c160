//go:build !linux

package cmd

import (
	"fmt"

	"github.com/dsmmcken/scanflow/internal/target"
)

// openTarget has no non-Linux memory provider adapter: the procfs
// adapter is Linux-only. Callers on other platforms must supply their own
// target.Memory (e.g. via internal/target/fake in tests).
func openTarget(pid, addrSize int) (target.Memory, target.ModuleEnumerator, func() error, error) {
	return nil, nil, nil, fmt.Errorf("cmd: no Memory Provider adapter available on this platform")
}
