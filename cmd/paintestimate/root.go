package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paintEstimator/internal/prompts"
)

type rootOptions struct {
	configPath string
	logLevel   string

	form         prompts.FormState
	customPrompt string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{form: prompts.DefaultFormState()}

	root := &cobra.Command{
		Use:          "paintestimate",
		Short:        "Estimate interior paint quantities from a floorplan with Gemini",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "optional YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	f := root.PersistentFlags()
	f.BoolVar(&opts.form.Surfaces.Walls, "walls", opts.form.Surfaces.Walls, "paint the walls")
	f.BoolVar(&opts.form.Surfaces.Ceiling, "ceiling", opts.form.Surfaces.Ceiling, "paint the ceiling")
	f.BoolVar(&opts.form.Surfaces.Doors, "doors", opts.form.Surfaces.Doors, "paint the doors")
	f.BoolVar(&opts.form.Rooms.Bedrooms, "bedrooms", opts.form.Rooms.Bedrooms, "include bedrooms")
	f.BoolVar(&opts.form.Rooms.DiningLounge, "dining-lounge", opts.form.Rooms.DiningLounge, "include the dining/lounge room")
	f.BoolVar(&opts.form.Rooms.Kitchen, "kitchen", opts.form.Rooms.Kitchen, "include the kitchen")
	f.BoolVar(&opts.form.Rooms.Bathrooms, "bathrooms", opts.form.Rooms.Bathrooms, "include bathrooms")
	f.IntVar(&opts.form.Coats, "coats", opts.form.Coats, "number of coats (1-3)")
	f.Float64Var(&opts.form.WallHeight, "wall-height", opts.form.WallHeight, "wall height in metres")
	f.Float64Var(&opts.form.Coverage, "coverage", opts.form.Coverage, "square metres covered by one litre")
	f.Float64Var(&opts.form.DoorWidth, "door-width", opts.form.DoorWidth, "door width in metres")
	f.Float64Var(&opts.form.DoorHeight, "door-height", opts.form.DoorHeight, "door height in metres")
	f.StringVar(&opts.customPrompt, "custom-prompt", "", "send this prompt instead of the generated one")

	root.AddCommand(newPromptCmd(opts), newEstimateCmd(opts))
	return root
}

// useCustom mirrors the "use custom prompt" checkbox: setting the flag selects it.
func (o *rootOptions) useCustom(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("custom-prompt")
}

func newPromptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt that would be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompt, err := prompts.Resolve(opts.form, opts.customPrompt, opts.useCustom(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
}
