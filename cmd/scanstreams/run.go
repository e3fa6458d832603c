package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/scanstreams/config"
	"github.com/c360/scanstreams/engine"
)

func newRunCommand() *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured pipeline stages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if validateOnly {
				cmd.Println("configuration is valid")
				return nil
			}

			eng, err := engine.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return eng.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&validateOnly, "validate", false,
		"validate the configuration and exit")
	return cmd
}
