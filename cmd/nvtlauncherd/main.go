// Command nvtlauncherd drives a single launcher.Core against one target
// host from the command line: a minimal, real stand-in for the scanner
// daemon that would otherwise be its only caller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nvtlauncherd",
		Short: "Per-host NVT launcher",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())

	return root
}
