package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"animerec/internal/service"
	"animerec/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web front end",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides web.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := service.NewPipeline(cfg)
	if err != nil {
		return err
	}
	srv, err := web.NewServer(pipeline, web.Options{
		RateLimitPerMinute: cfg.Web.RateLimitPerMinute,
		SessionTTL:         time.Duration(cfg.Web.SessionTTLMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	addr := cfg.Web.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	return srv.ListenAndServe(ctx, addr)
}
