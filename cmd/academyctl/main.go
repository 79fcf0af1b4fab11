// Command academyctl runs allocator, debt and gate operations against the
// academy database from a shell, and issues operator tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(openRuntime).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "academyctl",
		Short:         "Operator tooling for the academy billing and access core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(contractsCmd(open))
	root.AddCommand(debtCmd(open))
	root.AddCommand(gateCmd(open))
	root.AddCommand(tokenCmd())
	return root
}
