package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link [id] [related-id...]",
		Short: "Set the items a memory references",
		Long:  "Replace the references of a memory item. With no related ids the references are cleared.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runLink,
	}

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	related := args[1:]
	if len(related) == 0 {
		related = []string{}
	}
	item, err := a.mgr.Link(cmd.Context(), args[0], related)
	if err != nil {
		exitErr("link", err)
	}
	printJSON(item)
}
