// Command vshostbridge hosts the wire-level IPC/RPC core that bridges the
// IDE to an out-of-process, VSCode-compatible extension host.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vshostbridge",
		Short: "Extension host IPC/RPC bridge",
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
