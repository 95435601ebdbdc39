package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"drawbridge/internal/channel"
	"drawbridge/internal/logger"
	"drawbridge/internal/recipe"
)

var (
	applyURL     string
	applyChannel string
	applyVars    []string
	applyJSON    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <recipe-file>",
	Short: "Apply a recipe of canvas commands",
	Long: `Load a YAML recipe, resolve its variables, and execute the steps in order
against the agent on the channel. Execution stops at the first failed step
unless the step is marked continue_on_error.

Variables declared in the recipe can be overridden from the command line:

  drawbridge apply dashboard.yml --var title="Q3 Report" --var accent=0.8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetSilentMode(false)
		}

		overrides := make(map[string]string)
		for _, pair := range applyVars {
			key, value, found := strings.Cut(pair, "=")
			if !found || key == "" {
				return fmt.Errorf("invalid --var %q, expected key=value", pair)
			}
			overrides[key] = value
		}

		rec, err := recipe.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load recipe: %w", err)
		}

		resolved, err := rec.Resolve(overrides)
		if err != nil {
			return fmt.Errorf("failed to resolve recipe: %w", err)
		}

		client := channel.New(channel.Options{})
		if err := client.Connect(context.Background(), applyURL, applyChannel); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer client.Disconnect()

		runner := recipe.NewRunner(client)
		results, runErr := runner.Run(resolved)

		if applyJSON {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(results); err != nil {
				return err
			}
		} else {
			printStepResults(cmd, resolved.Name, results)
		}

		return runErr
	},
}

func printStepResults(cmd *cobra.Command, name string, results []recipe.StepResult) {
	cmd.Printf("Recipe: %s\n", name)
	for _, result := range results {
		label := result.Name
		if label == "" {
			label = result.Action
		}
		if result.Success {
			cmd.Printf("  ✓ step %d: %s (%s)\n", result.Step, label, result.Duration.Round(time.Millisecond))
		} else {
			cmd.Printf("  ✗ step %d: %s: %s\n", result.Step, label, result.Error)
		}
	}

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	cmd.Printf("%d/%d steps succeeded\n", succeeded, len(results))
}

func init() {
	applyCmd.Flags().StringVarP(&applyURL, "url", "u", "ws://localhost:8080/ws", "Relay websocket URL")
	applyCmd.Flags().StringVar(&applyChannel, "channel", "studio", "Channel name to join")
	applyCmd.Flags().StringArrayVar(&applyVars, "var", nil, "Recipe variable override (key=value, repeatable)")
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "Print step results as JSON")
}
