package cli

import (
	"encoding/json"

	"github.com/rcliao/treering/internal/treering"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change a memory item",
		Long:  "Change the content, tags or importance of a memory item. Unset flags leave the field alone.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("content", "", "New content")
	cmd.Flags().Bool("json", false, "Treat --content as a JSON value")
	cmd.Flags().StringP("tags", "t", "", "Replace context tags (comma-separated)")
	cmd.Flags().Float64P("importance", "i", 0, "New importance in [0, 1]")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	var p treering.Patch
	if cmd.Flags().Changed("content") {
		content, _ := cmd.Flags().GetString("content")
		asJSON, _ := cmd.Flags().GetBool("json")
		p.Content = content
		if asJSON {
			p.Content = json.RawMessage(content)
		}
	}
	if cmd.Flags().Changed("tags") {
		tagsStr, _ := cmd.Flags().GetString("tags")
		p.Context = splitList(tagsStr)
		if p.Context == nil {
			p.Context = []string{}
		}
	}
	if cmd.Flags().Changed("importance") {
		v, _ := cmd.Flags().GetFloat64("importance")
		p.Importance = &v
	}

	a := openApp(cmd.Context())
	defer a.Close()

	item, err := a.mgr.Update(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	printJSON(item)
}
