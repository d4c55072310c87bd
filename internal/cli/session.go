package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindcache/mindcache/internal/model"
)

func init() {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Session management",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Run:   runSessionCreate,
	}
	createCmd.Flags().StringP("user", "u", "", "User id (required)")
	createCmd.Flags().String("name", "", "Session name")
	createCmd.Flags().String("meta", "", "JSON metadata object")
	createCmd.MarkFlagRequired("user")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions",
		Run:   runSessionList,
	}
	listCmd.Flags().StringP("user", "u", "", "User id (required)")
	listCmd.Flags().String("query", "", "Keyword filter over session members")
	listCmd.MarkFlagRequired("user")

	rmCmd := &cobra.Command{
		Use:   "rm [session_id]",
		Short: "Delete a session and all its memories",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionRm,
	}
	rmCmd.Flags().StringP("user", "u", "", "User id (required)")
	rmCmd.MarkFlagRequired("user")

	sessionCmd.AddCommand(createCmd, listCmd, rmCmd)
	RootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	metaStr, _ := cmd.Flags().GetString("meta")

	var meta model.Metadata
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			exitErr("parse --meta", err)
		}
	}

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	id, err := c.CreateSession(user, name, meta)
	if err != nil {
		exitErr("session create", err)
	}

	b, _ := json.Marshal(map[string]string{"session_id": id})
	fmt.Println(string(b))
}

func runSessionList(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	query, _ := cmd.Flags().GetString("query")

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	sessions, err := c.ListSessions(user, query)
	if err != nil {
		exitErr("session list", err)
	}

	b, _ := json.MarshalIndent(sessions, "", "  ")
	fmt.Println(string(b))
}

func runSessionRm(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	count, err := c.DeleteSession(user, args[0])
	if err != nil {
		exitErr("session rm", err)
	}

	b, _ := json.Marshal(map[string]int{"memories_deleted": count})
	fmt.Println(string(b))
}
