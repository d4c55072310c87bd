package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindcache/mindcache/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save a memory",
		Long:  "Save a memory for a user/session. Content can be a positional arg or piped via stdin.",
		Run:   runSave,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().String("session", "", "Session id (required)")
	cmd.Flags().Float64P("importance", "i", -1, "Importance in [0,1] (default 0.5)")
	cmd.Flags().Float64("ttl-hours", -1, "TTL in hours (default: default_memory_ttl_hours)")
	cmd.Flags().String("meta", "", "JSON metadata object")
	cmd.Flags().String("request-id", "", "Idempotency key for retries")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("session")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	session, _ := cmd.Flags().GetString("session")
	importance, _ := cmd.Flags().GetFloat64("importance")
	ttlHours, _ := cmd.Flags().GetFloat64("ttl-hours")
	metaStr, _ := cmd.Flags().GetString("meta")
	requestID, _ := cmd.Flags().GetString("request-id")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("save", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	in := model.Input{
		UserID:    user,
		SessionID: session,
		Content:   strings.TrimSpace(content),
		RequestID: requestID,
	}
	if importance >= 0 {
		in.Importance = &importance
	}
	if ttlHours >= 0 {
		in.TTLHours = &ttlHours
	}
	if metaStr != "" {
		var meta model.Metadata
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			exitErr("parse --meta", err)
		}
		in.Metadata = meta
	}

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	id, err := c.Save(in)
	if err != nil {
		exitErr("save", err)
	}

	b, _ := json.Marshal(map[string]string{"id": id})
	fmt.Println(string(b))
}
