package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories and documents as JSON",
		Long:  "Export every memory item and document chunk, embeddings included. With --ns only that namespace's documents are exported.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	// --ns is a persistent flag; an unset flag exports every namespace
	dump, err := s.ExportAll(cmd.Context(), namespace)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(dump)
}
