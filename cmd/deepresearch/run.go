package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/artifact"
	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// runCMD executes a single research run from the command line, without
// the HTTP server.
func runCMD() *cobra.Command {
	var (
		cfgPath     string
		question    string
		urls        []string
		maxSources  int
		maxLinks    int
		followLinks bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Execute one research run and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.LLM.Validate(); err != nil {
				return err
			}

			store, err := artifact.NewStore(cfg.Storage.RunsDir)
			if err != nil {
				return err
			}
			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			tele := telemetry.New(prometheus.NewRegistry(), nil)
			fetcher := fetch.NewFetcher(cfg.Fetch, nil)
			orch := orchestrator.New(cfg, provider, fetcher, store, tele,
				log.New(os.Stderr, "[ORCH] ", log.LstdFlags))

			result, runErr := orch.Run(cmd.Context(), guardrail.RunRequest{
				Question:          question,
				URLs:              urls,
				MaxSources:        maxSources,
				MaxLinksPerSource: maxLinks,
				FollowLinks:       followLinks,
			})

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return runErr
		},
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	run.Flags().StringVarP(&question, "question", "q", "", "research question (required)")
	run.Flags().StringSliceVarP(&urls, "url", "u", nil, "seed URL (repeatable)")
	run.Flags().IntVar(&maxSources, "max-sources", -1, "max sources to fetch (clamped to [0,3])")
	run.Flags().IntVar(&maxLinks, "max-links", -1, "max links to follow per source (clamped to [0,10])")
	run.Flags().BoolVar(&followLinks, "follow-links", false, "follow links discovered on seed pages")
	_ = run.MarkFlagRequired("question")
	return run
}
