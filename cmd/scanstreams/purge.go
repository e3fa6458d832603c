package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/scanstreams/config"
	"github.com/c360/scanstreams/pipeline"
)

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Empty every pipeline queue",
		Long:  "Purge removes all pending messages from the pipeline's queues.\nUse it to reset a deployment after aborted or misconfigured scans.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := brokerClient(cfg)
			if err != nil {
				return err
			}
			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = client.Close(ctx) }()

			if failures := pipeline.Purge(ctx, client, nil); failures != nil {
				for queue, ferr := range failures {
					cmd.PrintErrf("purge %s: %v\n", queue, ferr)
				}
				return fmt.Errorf("%d queue(s) could not be purged", len(failures))
			}
			cmd.Println("all queues purged")
			return nil
		},
	}
}
