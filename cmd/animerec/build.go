package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"animerec/internal/service"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Process the raw catalogue and build the vector store",
	Long: `Runs data processing then vector-store construction. Each stage is
retried with exponential backoff; on final failure the processed CSV and the
persist directory are removed.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := service.NewBuildPipeline(service.BuildOptions{Config: cfg})
	if err != nil {
		return err
	}
	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Processed catalogue: %s\n", report.ProcessedPath)
	cmd.Printf("Vector store:        %s\n", report.PersistDir)
	cmd.Printf("Attempts:            data=%d vector=%d\n",
		report.Attempts[service.StageDataProcessing], report.Attempts[service.StageVectorStore])
	cmd.Printf("Completed in %.1fs\n", report.Elapsed.Seconds())
	return nil
}
