package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"animerec/internal/service"
	"animerec/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive terminal UI",
	Long: `Launch the terminal front end.

Controls:
  Enter    - Search
  Up/Down  - Browse recommendations
  Ctrl+C   - Quit`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	pipeline, err := service.NewPipeline(cfg)
	if err != nil {
		return err
	}
	m := tui.New(pipeline, "Discover anime for any interest")
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
