package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mindcache/mindcache/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's memories as newline-delimited JSON",
		Run:   runExport,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = c.ExportUser(user, func(mem model.Memory) error {
		return enc.Encode(mem)
	})
	if err != nil {
		exitErr("export", err)
	}
}
