package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Read a memory item",
		Long:  "Read a memory item. Reading applies pending decay and counts as an access.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("related", false, "Also return the items it references")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	related, _ := cmd.Flags().GetBool("related")

	a := openApp(cmd.Context())
	defer a.Close()

	item, err := a.mgr.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !related {
		printJSON(item)
		return
	}

	refs, err := a.mgr.Related(cmd.Context(), item.ID)
	if err != nil {
		exitErr("related", err)
	}
	printJSON(map[string]any{"item": item, "related": refs})
}
