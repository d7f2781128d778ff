package cli

import (
	"fmt"

	"github.com/rcliao/treering/internal/agentmem"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Summarize an agent's recent memories into a pattern",
		Long:  "Count the tags across an agent's recent memories and store the result as a core-ring pattern tagged learning,pattern.",
		Run:   runLearn,
	}

	cmd.Flags().String("agent", "", "Agent id (required)")
	cmd.Flags().Int("top", 10, "Number of tags to keep")

	cmd.MarkFlagRequired("agent")

	RootCmd.AddCommand(cmd)
}

func runLearn(cmd *cobra.Command, args []string) {
	agentID, _ := cmd.Flags().GetString("agent")
	top, _ := cmd.Flags().GetInt("top")

	a := openApp(cmd.Context())
	defer a.Close()

	item, err := a.agent(agentID, "", agentmem.TagFrequency{Top: top}).Learn(cmd.Context())
	if err != nil {
		exitErr("learn", err)
	}
	if item == nil {
		fmt.Println(`{"ok":true,"learned":false}`)
		return
	}
	printJSON(item)
}
