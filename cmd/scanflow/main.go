// Command scanflow is the entry point of the live-memory introspection
// toolkit: it delegates straight to the cobra root command, printing
// errors to stderr and setting a non-zero exit status.
package main

import (
	"fmt"
	"os"

	"github.com/dsmmcken/scanflow/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
