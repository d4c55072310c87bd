package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "summarize [session_id]",
		Short: "Summarize a session into statistics, key topics, and an excerpt",
		Args:  cobra.ExactArgs(1),
		Run:   runSummarize,
	}

	RootCmd.AddCommand(cmd)
}

func runSummarize(cmd *cobra.Command, args []string) {
	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	summary, err := c.Summarize(args[0])
	if err != nil {
		exitErr("summarize", err)
	}

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))
}
