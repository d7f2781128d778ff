package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ring [level]",
		Short: "Show the items in a ring",
		Long:  "Show the items at a ring level (0 is the core, 4 the outermost), most recent first. Without a level, print item counts per ring.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRing,
	}

	RootCmd.AddCommand(cmd)
}

func runRing(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	if len(args) == 0 {
		printJSON(a.mgr.RingSizes())
		return
	}

	level, err := strconv.Atoi(args[0])
	if err != nil {
		exitErr("parse level", err)
	}
	items, err := a.mgr.GetRing(cmd.Context(), level)
	if err != nil {
		exitErr("ring", err)
	}
	printJSON(items)
}
