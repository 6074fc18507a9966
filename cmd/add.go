package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dlforge/xfer/internal/task"
)

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "enqueue a download task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := sharedEngine()
		if err != nil {
			fatal(err)
		}

		dir, _ := cmd.Flags().GetString("dir")
		filename, _ := cmd.Flags().GetString("filename")
		group, _ := cmd.Flags().GetString("group")
		priority, _ := cmd.Flags().GetInt("priority")
		retries, _ := cmd.Flags().GetInt("retries")
		allowPause, _ := cmd.Flags().GetBool("allow-pause")

		if filename == "" {
			filename = task.SuggestedFilename
		}

		t := &task.Task{
			TaskID:           uuid.NewString(),
			Group:            group,
			URL:              args[0],
			HTTPMethod:       "GET",
			BaseDirectory:    task.BaseDirectoryAbsolute,
			Directory:        dir,
			Filename:         filename,
			Retries:          retries,
			RetriesRemaining: retries,
			AllowPause:       allowPause,
			Priority:         priority,
			Updates:          task.UpdatesStatusAndProgress,
			Kind:             task.KindDownload,
		}

		if !eng.Enqueue(t, nil) {
			fatal(fmt.Errorf("cmd: task rejected (invalid url or task): %s", t.URL))
		}
		fmt.Println(t.TaskID)
	},
}

func init() {
	addCmd.Flags().String("dir", ".", "destination directory (absolute path)")
	addCmd.Flags().String("filename", "", "destination filename (default: derive from server response)")
	addCmd.Flags().String("group", "default", "task group, used for tracking and reset")
	addCmd.Flags().Int("priority", task.DefaultPriority, "admission priority, 0 (highest) to 9 (lowest)")
	addCmd.Flags().Int("retries", 3, "automatic retry attempts on a retryable failure")
	addCmd.Flags().Bool("allow-pause", true, "allow this task to be paused")
}
