package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list tasks known to the engine",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}

		group, _ := cmd.Flags().GetString("group")
		includeRetrying, _ := cmd.Flags().GetBool("include-waiting-to-retry")

		tasks := eng.AllTasks(group, includeRetrying)
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "TASK_ID\tKIND\tGROUP\tPRIORITY\tURL")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.TaskID, t.Kind, t.Group, t.Priority, t.URL)
		}
		w.Flush()
	},
}

func init() {
	listCmd.Flags().String("group", "", "restrict to this group (default: all groups)")
	listCmd.Flags().Bool("include-waiting-to-retry", true, "include tasks currently waiting to retry")
}
