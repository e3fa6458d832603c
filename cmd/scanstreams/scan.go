package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/scanstreams/config"
	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/natsclient"
	"github.com/c360/scanstreams/pipeline"
	"github.com/c360/scanstreams/rule"
)

func newScanCommand() *cobra.Command {
	var (
		specFile      string
		path          string
		scanner       string
		regexPattern  string
		cprMatch      bool
		modifiedAfter string
		anyOf         bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Submit a scan to the pipeline",
		Long: "Scan submits a scan specification to the entry queue. Either pass a\n" +
			"complete specification with --spec, or compose one from --path and\n" +
			"the rule flags.",
		Example: "  scanstreams scan --path /srv/archive --cpr\n" +
			"  scanstreams scan --path /srv/archive --regex 'confidential' --modified-after 2024-01-01T00:00:00Z\n" +
			"  scanstreams scan --spec scan.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			spec, err := buildSpec(specFile, path, scanner,
				regexPattern, cprMatch, modifiedAfter, anyOf)
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

			if err := pipeline.Submit(ctx, client, spec); err != nil {
				return err
			}
			cmd.Printf("scan %s submitted\n", spec.Tag.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec", "", "JSON file with a complete scan specification")
	cmd.Flags().StringVar(&path, "path", "", "filesystem directory to scan")
	cmd.Flags().StringVar(&scanner, "scanner", "cli", "scanner name recorded in the scan tag")
	cmd.Flags().StringVar(&regexPattern, "regex", "", "match text against this regular expression")
	cmd.Flags().BoolVar(&cprMatch, "cpr", false, "match Danish CPR numbers")
	cmd.Flags().StringVar(&modifiedAfter, "modified-after", "", "match items modified after this RFC 3339 timestamp")
	cmd.Flags().BoolVar(&anyOf, "any", false, "combine rule flags with OR instead of AND")
	return cmd
}

// buildSpec produces the scan specification from either a spec file or the
// composition flags.
func buildSpec(specFile, path, scanner, regexPattern string,
	cprMatch bool, modifiedAfter string, anyOf bool) (pipeline.ScanSpec, error) {

	if specFile != "" {
		data, err := os.ReadFile(specFile)
		if err != nil {
			return pipeline.ScanSpec{}, err
		}
		var spec pipeline.ScanSpec
		if err := spec.UnmarshalJSON(data); err != nil {
			return pipeline.ScanSpec{}, err
		}
		if spec.Tag.ID == "" {
			spec.Tag = pipeline.NewScanTag(scanner)
		}
		return spec, nil
	}

	if path == "" {
		return pipeline.ScanSpec{}, fmt.Errorf("either --spec or --path is required")
	}

	var leaves []rule.Rule
	if regexPattern != "" {
		leaves = append(leaves, rule.NewRegexRule(regexPattern))
	}
	if cprMatch {
		leaves = append(leaves, rule.NewCPRRule())
	}
	if modifiedAfter != "" {
		cutoff, err := time.Parse(time.RFC3339, modifiedAfter)
		if err != nil {
			return pipeline.ScanSpec{}, fmt.Errorf("invalid --modified-after: %w", err)
		}
		leaves = append(leaves, rule.NewLastModifiedRule(cutoff))
	}
	if len(leaves) == 0 {
		return pipeline.ScanSpec{}, fmt.Errorf("at least one of --regex, --cpr, --modified-after is required")
	}

	var scanRule rule.Rule
	if anyOf {
		scanRule = rule.Or(leaves...)
	} else {
		scanRule = rule.And(leaves...)
	}

	return pipeline.ScanSpec{
		Tag:    pipeline.NewScanTag(scanner),
		Source: model.NewFilesystemSource(path),
		Rule:   scanRule,
	}, nil
}

// brokerClient builds a broker client from configuration for one-shot
// commands.
func brokerClient(cfg *config.Config) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(appName + "-cli"),
	}
	if cfg.Broker.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Broker.Token))
	} else if cfg.Broker.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	return natsclient.NewClient(cfg.Broker.URL, opts...)
}
