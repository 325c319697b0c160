// Package target defines the memory-provider and module-enumerator
// interfaces the core subsystems consume. The scanner, pointer map, code
// anchor extractor, and sigmaker are all written against these
// interfaces; internal/target/procfs is the one real adapter this repo
// ships, and internal/target/fake is the in-memory double the tests run
// against.
package target

import (
	"context"

	"github.com/dsmmcken/scanflow/internal/addr"
)

// Memory is the bulk random-access view of the target's sparse virtual
// address space.
type Memory interface {
	// ReadRange fills buf from the target starting at a and returns the
	// number of bytes filled. Unmapped holes inside the requested range
	// read as zeros; an error is only returned when the provider itself
	// fails.
	ReadRange(ctx context.Context, a addr.Address, buf []byte) (int, error)

	// WriteRange overwrites target memory at a with data.
	WriteRange(ctx context.Context, a addr.Address, data []byte) error

	// PageMap returns the ordered list of mapped ranges within
	// [lower, upper), with ranges separated by less than gap bytes
	// coalesced into a single entry.
	PageMap(ctx context.Context, gap uint64, lower, upper addr.Address) ([]addr.Range, error)

	// AddressSize is the target's pointer width in bytes: 4 or 8.
	AddressSize() int
}

// Cloner is the optional capability that enables parallel scans: a
// provider that can hand out an independent handle to the same target,
// usable concurrently from another worker.
type Cloner interface {
	Clone() (Memory, error)
}

// Module is one loaded image in the target.
type Module struct {
	Name string
	Base addr.Address
	Size uint64
}

// ModuleEnumerator yields the target's loaded modules, base-rebased and
// ready for header parsing by the code anchor extractor.
type ModuleEnumerator interface {
	Modules(ctx context.Context) ([]Module, error)
}
