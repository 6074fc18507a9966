package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [group]",
	Short: "cancel every non-final task in a group",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}
		n := eng.Reset(args[0])
		fmt.Printf("canceled %d task(s)\n", n)
	},
}
