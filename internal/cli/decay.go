package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run a decay sweep now",
		Run:   runDecay,
	}

	cmd.Flags().Bool("force", false, "Accepted for symmetry; the sweep runs whether or not it is set")

	RootCmd.AddCommand(cmd)
}

func runDecay(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	stats, err := c.RunDecay(force)
	if err != nil {
		exitErr("decay", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
