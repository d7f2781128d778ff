package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/treering/internal/longterm"
	"github.com/spf13/cobra"
)

func init() {
	docCmd := &cobra.Command{
		Use:   "doc",
		Short: "Semantic document store",
		Long:  "Chunked, embedded documents searched by similarity. Documents live in the namespace selected with --ns.",
	}

	addCmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add a document",
		Long:  "Chunk, embed and store a document. Content can be a positional arg or piped via stdin.",
		Run:   runDocAdd,
	}
	addCmd.Flags().String("id", "", "Document id (generated when empty; reusing an id replaces the document)")
	addCmd.Flags().String("meta", "", "JSON object of metadata")

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search documents by similarity",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDocSearch,
	}
	searchCmd.Flags().IntP("limit", "l", longterm.DefaultLimit, "Max results")
	searchCmd.Flags().String("filter", "", "JSON object; every key must match the chunk metadata")
	searchCmd.Flags().Float64("min-score", 0, "Drop results below this similarity")

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a document and its chunks",
		Args:  cobra.ExactArgs(1),
		Run:   runDocGet,
	}

	updateCmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Replace a document's content or metadata",
		Args:  cobra.ExactArgs(1),
		Run:   runDocUpdate,
	}
	updateCmd.Flags().String("content", "", "New content (re-chunked and re-embedded)")
	updateCmd.Flags().String("meta", "", "JSON object replacing the metadata")

	rmCmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		Run:   runDocRm,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document in the namespace",
		Run:   runDocClear,
	}

	docCmd.AddCommand(addCmd, searchCmd, getCmd, updateCmd, rmCmd, clearCmd)
	RootCmd.AddCommand(docCmd)
}

func parseObject(flag, v string) map[string]any {
	if v == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		exitErr("parse --"+flag, err)
	}
	return m
}

func runDocAdd(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	meta, _ := cmd.Flags().GetString("meta")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("doc add", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	metadata := parseObject("meta", meta)

	a := openApp(cmd.Context())
	defer a.Close()
	docs := a.documents()

	var err error
	if id == "" {
		id, err = docs.AddDocument(cmd.Context(), content, metadata)
	} else {
		err = docs.AddDocumentWithID(cmd.Context(), id, content, metadata)
	}
	if err != nil {
		exitErr("doc add", err)
	}
	fmt.Printf(`{"ok":true,"namespace":%q,"id":%q}`+"\n", docs.Namespace(), id)
}

func runDocSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	filter, _ := cmd.Flags().GetString("filter")
	minScore, _ := cmd.Flags().GetFloat64("min-score")

	a := openApp(cmd.Context())
	defer a.Close()

	results, err := a.documents().Search(cmd.Context(), strings.Join(args, " "), longterm.SearchOptions{
		Limit:    limit,
		Filter:   parseObject("filter", filter),
		MinScore: minScore,
	})
	if err != nil {
		exitErr("doc search", err)
	}
	printJSON(results)
}

func runDocGet(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	chunks, err := a.documents().GetDocument(cmd.Context(), args[0])
	if err != nil {
		exitErr("doc get", err)
	}
	printJSON(map[string]any{
		"id":      args[0],
		"content": longterm.Content(chunks),
		"chunks":  chunks,
	})
}

func runDocUpdate(cmd *cobra.Command, args []string) {
	var u longterm.Update
	if cmd.Flags().Changed("content") {
		content, _ := cmd.Flags().GetString("content")
		u.Content = &content
	}
	if cmd.Flags().Changed("meta") {
		meta, _ := cmd.Flags().GetString("meta")
		u.Metadata = parseObject("meta", meta)
		if u.Metadata == nil {
			u.Metadata = map[string]any{}
		}
	}

	a := openApp(cmd.Context())
	defer a.Close()

	if err := a.documents().UpdateDocument(cmd.Context(), args[0], u); err != nil {
		exitErr("doc update", err)
	}
	fmt.Printf(`{"ok":true,"id":%q}`+"\n", args[0])
}

func runDocRm(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	if err := a.documents().DeleteDocument(cmd.Context(), args[0]); err != nil {
		exitErr("doc rm", err)
	}
	fmt.Printf(`{"ok":true,"id":%q}`+"\n", args[0])
}

func runDocClear(cmd *cobra.Command, args []string) {
	a := openApp(cmd.Context())
	defer a.Close()

	docs := a.documents()
	if err := docs.ClearNamespace(cmd.Context()); err != nil {
		exitErr("doc clear", err)
	}
	fmt.Printf(`{"ok":true,"namespace":%q}`+"\n", docs.Namespace())
}
