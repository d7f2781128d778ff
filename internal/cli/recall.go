package cli

import (
	"strings"

	"github.com/rcliao/treering/internal/treering"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Gather relevant memories across tiers",
		Long:  "Search tagged rings and semantic documents, merge hits by item and rank them by relevance, recency, importance and use.",
		Run:   runRecall,
	}

	cmd.Flags().StringP("tags", "t", "", "Context tags to match (comma-separated)")
	cmd.Flags().String("agent", "", "Only recall this agent's memories")
	cmd.Flags().String("session", "", "Session whose short-term entries to include")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	agentID, _ := cmd.Flags().GetString("agent")
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	a := openApp(cmd.Context())
	defer a.Close()

	results, err := a.mgr.Recall(cmd.Context(), treering.Recall{
		SessionID: sessionID,
		AgentID:   agentID,
		Query:     strings.Join(args, " "),
		Context:   splitList(tagsStr),
		Limit:     limit,
	})
	if err != nil {
		exitErr("recall", err)
	}
	printJSON(results)
}
