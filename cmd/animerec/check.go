package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"animerec/internal/config"
	"animerec/internal/recommender"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate secrets and test the Groq connection",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	if err := config.ValidateSecrets(); err != nil {
		return err
	}
	cmd.Println("Secrets: ok")

	key, err := config.GroqAPIKey()
	if err != nil {
		return err
	}
	client, err := recommender.New(recommender.ConfigFrom(cfg.LLM, key))
	if err != nil {
		return err
	}
	if w := config.ModelWarning(client.Model()); w != "" {
		cmd.Printf("Warning: %s\n", w)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := client.CheckConnection(ctx); err != nil {
		return err
	}
	cmd.Printf("Groq connection: ok (model %s)\n", client.Model())
	return nil
}
