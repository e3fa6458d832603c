package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Distributed content scanning pipeline",
		Long:          "Scanstreams explores data sources, extracts content, and matches it\nagainst composable rules, carried on durable broker queues so scans\nsurvive process restarts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newScanCommand())
	root.AddCommand(newPurgeCommand())
	return root
}
