package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/treering/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories and documents from JSON",
		Long:  "Import a dump produced by export, from a file or stdin. Existing ids are overwritten.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var dump store.Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		exitErr("parse json", err)
	}

	s, _ := openStore()
	defer s.Close()

	items, chunks, err := s.Import(cmd.Context(), &dump)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"items":%d,"chunks":%d}`+"\n", items, chunks)
}
