package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print store-wide statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	b, _ := json.MarshalIndent(c.Stats(), "", "  ")
	fmt.Println(string(b))
}
