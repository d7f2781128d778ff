package cli

import (
	"fmt"
	"time"

	"github.com/rcliao/treering/internal/treering"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List memory items",
		Long:  "List memory items, most recent first. Listing does not count as an access.",
		Run:   runQuery,
	}

	cmd.Flags().StringP("tags", "t", "", "Match items with any of these tags (comma-separated)")
	cmd.Flags().String("since", "", "Created at or after (RFC 3339)")
	cmd.Flags().String("until", "", "Created at or before (RFC 3339)")
	cmd.Flags().Float64("min-importance", 0, "Minimum stored importance")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output item ids")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	q := treering.Query{
		Context:       splitList(tagsStr),
		MinImportance: minImportance,
		Limit:         limit,
	}
	if since != "" || until != "" {
		q.TimeRange = &treering.TimeRange{Start: parseTime("since", since), End: parseTime("until", until)}
	}

	a := openApp(cmd.Context())
	defer a.Close()

	items, err := a.mgr.Query(cmd.Context(), q)
	if err != nil {
		exitErr("query", err)
	}

	if idsOnly {
		for _, it := range items {
			fmt.Println(it.ID)
		}
		return
	}
	printJSON(items)
}

func parseTime(flag, v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		exitErr("parse --"+flag, err)
	}
	return t
}
