package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/callprobe/pkg/callprobe"
)

var noBanner bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept calls and run the turn-taking engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := callprobe.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger := callprobe.SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
		app, err := callprobe.New(callprobe.Options{
			Config:     cfg,
			Logger:     logger,
			HideBanner: noBanner,
		})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noBanner, "no-banner", false, "skip the startup banner")
}
