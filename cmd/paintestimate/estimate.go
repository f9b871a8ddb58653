package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paintEstimator/internal/config"
	"paintEstimator/internal/estimator"
	"paintEstimator/internal/floorplan"
	"paintEstimator/internal/llm"
	"paintEstimator/internal/logging"
	"paintEstimator/internal/media"
	"paintEstimator/internal/storage"
)

type estimateOptions struct {
	image      string
	imageURL   string
	json       bool
	showPrompt bool
	model      string
	apiKey     string
}

func newEstimateCmd(root *rootOptions) *cobra.Command {
	opts := &estimateOptions{}
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Send a floorplan to Gemini and print the paint estimate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEstimate(ctx, cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.image, "image", "", "path to a png, jpg or gif floorplan")
	cmd.Flags().StringVar(&opts.imageURL, "image-url", "", "download the floorplan from this URL")
	cmd.Flags().BoolVar(&opts.json, "json", false, "also ask for the estimate as JSON")
	cmd.Flags().BoolVar(&opts.showPrompt, "show-prompt", false, "print the prompt before the answer")
	cmd.Flags().StringVar(&opts.model, "model", "", "override GEMINI_MODEL")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "override GEMINI_API_KEY")
	cmd.MarkFlagsMutuallyExclusive("image", "image-url")
	cmd.MarkFlagsOneRequired("image", "image-url")
	return cmd
}

func runEstimate(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *estimateOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if root.logLevel != "" {
		level = root.logLevel
	}
	logger := logging.Default(level)

	image, err := loadFloorplan(ctx, opts)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	uploader, err := media.NewUploader(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("init media uploader: %w", err)
	}

	client, err := llm.NewClient(cfg.Gemini, logger)
	if err != nil {
		return err
	}
	if opts.apiKey != "" {
		ctx = llm.WithAPIKey(ctx, opts.apiKey)
	}
	if opts.model != "" {
		ctx = llm.WithModel(ctx, opts.model)
	}

	svc := estimator.New(store, uploader, client, nil, 0, logger)
	useCustom := root.useCustom(cmd)

	out := cmd.OutOrStdout()
	if opts.showPrompt {
		prompt, err := svc.Preview(root.form, root.customPrompt, useCustom)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Prompt:\n%s\n\n", prompt)
	}

	rec, err := svc.Run(ctx, estimator.Request{
		Form:         root.form,
		CustomPrompt: root.customPrompt,
		UseCustom:    useCustom,
		Image:        image,
		JSON:         opts.json,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, strings.TrimSpace(rec.Answer))
	if opts.json {
		if len(rec.JSON) == 0 {
			return fmt.Errorf("no JSON estimate: %s", rec.Error)
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, rec.JSON, "", "  "); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", pretty.String())
	}
	return nil
}

func loadFloorplan(ctx context.Context, opts *estimateOptions) (floorplan.Image, error) {
	if opts.imageURL != "" {
		return floorplan.Fetch(ctx, &http.Client{Timeout: 30 * time.Second}, opts.imageURL)
	}
	file, err := os.Open(opts.image)
	if err != nil {
		return floorplan.Image{}, fmt.Errorf("open floorplan: %w", err)
	}
	defer file.Close()
	return floorplan.Read(file, opts.image)
}
