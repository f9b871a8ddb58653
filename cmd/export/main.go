package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paintEstimator/internal/config"
	"paintEstimator/internal/dataset"
	"paintEstimator/internal/logging"
	"paintEstimator/internal/storage"
)

func main() {
	var (
		configPath string
		outputPath string
		opts       dataset.Options
		allowEmpty bool
	)

	cmd := &cobra.Command{
		Use:          "export",
		Short:        "Export completed estimates as JSON Lines",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.Default(cfg.LogLevel)
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required to export estimates")
			}

			ctx := context.Background()
			store, err := storage.NewStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer store.Close()

			estimates, err := store.ListAllEstimates(ctx)
			if err != nil {
				return fmt.Errorf("fetch estimates: %w", err)
			}

			examples := dataset.BuildExamples(estimates, opts)
			if len(examples) == 0 && !allowEmpty {
				return errors.New("no estimates matched the provided filters")
			}

			if err := dataset.WriteJSONLFile(outputPath, examples); err != nil {
				return fmt.Errorf("write dataset: %w", err)
			}
			logger.Info().Int("examples", len(examples)).Int("estimates", len(estimates)).Str("out", outputPath).Msg("export finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "optional YAML config file")
	cmd.Flags().StringVar(&outputPath, "out", "estimates.jsonl", "where to write the JSONL file, - for stdout")
	cmd.Flags().IntVar(&opts.MinWords, "min-words", 5, "minimum number of words in the answer")
	cmd.Flags().BoolVar(&opts.RequireJSON, "require-json", false, "only export estimates with a JSON breakdown")
	cmd.Flags().BoolVar(&opts.SkipCustom, "skip-custom", false, "leave out estimates that used a custom prompt")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "write an empty file instead of failing")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
