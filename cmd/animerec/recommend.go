package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"animerec/internal/domain"
	"animerec/internal/service"
)

var recommendJSON bool

var recommendCmd = &cobra.Command{
	Use:   "recommend [query...]",
	Short: "Print recommendations for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecommend,
}

func init() {
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "output recommendations as JSON")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if len([]rune(query)) < 2 {
		return fmt.Errorf("please enter at least 2 characters")
	}
	pipeline, err := service.NewPipeline(cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	recs, err := pipeline.Recommend(cmd.Context(), query)
	if err != nil {
		return err
	}
	if recommendJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal recommendations: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printRecommendations(cmd, recs, time.Since(start))
	return nil
}

func printRecommendations(cmd *cobra.Command, recs []domain.Recommendation, elapsed time.Duration) {
	if len(recs) == 0 {
		cmd.Println("No matches found. Try different keywords.")
		return
	}
	cmd.Printf("Found %d recommendations (generated in %.1fs)\n\n", len(recs), elapsed.Seconds())
	for i, r := range recs {
		cmd.Printf("#%d %s", i+1, r.Anime)
		if r.Year != "" {
			cmd.Printf(" (%s)", r.Year)
		}
		cmd.Printf("  %d/100\n", r.MatchScore)
		if len(r.Genres) > 0 {
			cmd.Printf("   Genres: %s\n", strings.Join(r.Genres, ", "))
		}
		if r.MatchScore < 75 {
			cmd.Println("   Conceptual match - not directly related")
		}
		cmd.Printf("   %s\n", r.Description)
		why := r.Why
		if why == "" {
			why = "Matches your search criteria"
		}
		cmd.Printf("   Why: %s\n\n", why)
	}
}
