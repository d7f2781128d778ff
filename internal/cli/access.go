package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "access [id]",
		Short: "Record a use of a memory item",
		Long:  "Record a use of a memory item: its importance rises by 0.1 (capped at 1) and it may move to an inner ring.",
		Args:  cobra.ExactArgs(1),
		Run:   runAccess,
	}

	RootCmd.AddCommand(cmd)
}

func runAccess(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	item, err := a.mgr.Access(cmd.Context(), args[0])
	if err != nil {
		exitErr("access", err)
	}
	printJSON(item)
}
