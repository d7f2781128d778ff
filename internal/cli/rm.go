package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a memory item",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	cmd.Flags().Bool("with-doc", false, "Also delete the semantic document stored for the item")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	withDoc, _ := cmd.Flags().GetBool("with-doc")
	id := args[0]

	a := openApp(cmd.Context())
	defer a.Close()

	if err := a.mgr.Delete(cmd.Context(), id); err != nil {
		exitErr("rm", err)
	}
	if withDoc {
		if err := a.documents().DeleteDocument(cmd.Context(), id); err != nil {
			logger.Warn("no document for item", "id", id, "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
}
