package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindcache/mindcache/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories by user/session/time/importance/full-text filters",
		Run:   runRecall,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().String("session", "", "Filter by session id")
	cmd.Flags().String("date-from", "", "Filter: created_at >= RFC3339 timestamp")
	cmd.Flags().String("date-to", "", "Filter: created_at <= RFC3339 timestamp")
	cmd.Flags().StringSlice("keywords", nil, "Additional keyword terms (AND semantics)")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance")
	cmd.Flags().IntP("limit", "l", 50, "Max results (max 1000)")

	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	session, _ := cmd.Flags().GetString("session")
	dateFromStr, _ := cmd.Flags().GetString("date-from")
	dateToStr, _ := cmd.Flags().GetString("date-to")
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := model.Filter{
		UserID:        user,
		SessionID:     session,
		Query:         strings.Join(args, " "),
		Keywords:      keywords,
		MinImportance: minImportance,
		Limit:         limit,
	}
	if dateFromStr != "" {
		t, err := time.Parse(time.RFC3339, dateFromStr)
		if err != nil {
			exitErr("parse --date-from", err)
		}
		filter.DateFrom = &t
	}
	if dateToStr != "" {
		t, err := time.Parse(time.RFC3339, dateToStr)
		if err != nil {
			exitErr("parse --date-to", err)
		}
		filter.DateTo = &t
	}

	c, err := openCoordinator()
	if err != nil {
		exitErr("open store", err)
	}
	defer c.Close()

	memories, count, err := c.Recall(filter)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(map[string]any{"memories": memories, "count": count}, "", "  ")
	fmt.Println(string(b))
}
