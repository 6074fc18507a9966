package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [task-id]",
	Short: "pause a running task, or every pauseable task with --all",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}

		if all, _ := cmd.Flags().GetBool("all"); all {
			ids := eng.PauseAll()
			fmt.Println(strings.Join(ids, "\n"))
			return
		}

		if len(args) != 1 {
			fatal(fmt.Errorf("cmd: pause requires exactly one task-id, or --all"))
		}
		if !eng.Pause(args[0]) {
			fatal(fmt.Errorf("cmd: task %s is not running or does not allow pause", args[0]))
		}
	},
}

func init() {
	pauseCmd.Flags().Bool("all", false, "pause every currently running, pauseable task")
}
