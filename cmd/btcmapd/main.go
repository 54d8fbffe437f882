// Command btcmapd is the thin CLI entry point (spec.md §1 "out of
// scope... the CLI entry point", kept minimal per SPEC_FULL.md §0): it
// wires configuration, storage, and the periodic jobs together and
// starts listening. No business logic lives here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "btcmapd",
	Short: "btcmap registry backend",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
