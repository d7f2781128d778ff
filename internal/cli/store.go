package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/treering/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory item",
		Long: "Store a memory item in the ring matching its importance. Content can be a positional arg or piped via stdin. " +
			"With --agent the item is also embedded for semantic recall and tagged for that agent.",
		Run: runStore,
	}

	cmd.Flags().StringP("tags", "t", "", "Comma-separated context tags")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0, 1]")
	cmd.Flags().Bool("json", false, "Treat content as a JSON value")
	cmd.Flags().String("agent", "", "Store on behalf of this agent")
	cmd.Flags().String("session", "", "Session id for --agent")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")
	asJSON, _ := cmd.Flags().GetBool("json")
	agentID, _ := cmd.Flags().GetString("agent")
	sessionID, _ := cmd.Flags().GetString("session")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	var data any = content
	if asJSON {
		data = json.RawMessage(content)
	}

	a := openApp(cmd.Context())
	defer a.Close()

	var (
		item *model.MemoryItem
		err  error
	)
	if agentID != "" {
		item, err = a.agent(agentID, sessionID, nil).Store(cmd.Context(), data, splitList(tagsStr), importance)
	} else {
		item, err = a.mgr.Store(cmd.Context(), data, splitList(tagsStr), importance)
	}
	if err != nil {
		exitErr("store", err)
	}

	b, _ := json.Marshal(item)
	fmt.Println(string(b))
}
