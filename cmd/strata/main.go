// Strata: a deterministic program VM with speculative finalize and a ledger.
package main

import (
	"fmt"
	"os"

	"github.com/fortiblox/X1-Strata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
