package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCmd prints the broker's build version.
func NewVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fleetbroker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
