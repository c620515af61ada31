package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"animerec/internal/config"
	"animerec/internal/logging"
)

var (
	cfgPath string
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:           "animerec",
	Short:         "Anime recommendations from a natural-language interest",
	Long:          `Processes an anime catalogue into an embedding index and asks a Groq-hosted chat model for ranked recommendations.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// .env is optional; real environment variables win.
		_ = godotenv.Load()

		var err error
		path := cfgPath
		if path == "" {
			cfg, path, err = config.LoadDefault()
		} else {
			cfg, err = config.Load(path)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logging.Init(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cmd.ErrOrStderr(),
		})
		log := logging.Component("cli")
		log.Debug().Str("path", path).Str("command", cmd.Name()).Msg("config loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/animerec/config.yaml)")
}
