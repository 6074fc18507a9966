package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id...]",
	Short: "cancel one or more tasks",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}
		if !eng.CancelTasksWithIDs(args) {
			fmt.Println("warning: one or more task ids were not in a cancelable state")
		}
	},
}
