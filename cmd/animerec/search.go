package main

import (
	"strings"

	"github.com/spf13/cobra"

	"animerec/internal/service"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Query the built vector store directly",
	Long: `Embeds the query and prints the closest catalogue chunks from the
persisted vector store. Useful for inspecting a build; recommendations do not
depend on it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	emb, err := service.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	open, err := service.NewOpener(cfg)
	if err != nil {
		return err
	}
	builder, err := service.NewBuilder(cfg, emb, open)
	if err != nil {
		return err
	}
	store, err := builder.Load(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	searcher, err := service.NewSearcher(store, emb)
	if err != nil {
		return err
	}
	results, err := searcher.Search(cmd.Context(), query, searchLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("%d. [%.3f] %s\n", i+1, r.Score, r.Chunk.Text)
	}
	return nil
}
