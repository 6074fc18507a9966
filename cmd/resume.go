package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [task-id]",
	Short: "resume a previously paused task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}
		if !eng.Resume(args[0], nil) {
			fatal(fmt.Errorf("cmd: task %s has no resume data on file", args[0]))
		}
	},
}
