package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pbaity/hubscript/internal/config"
	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listHandlers bool

var listActionsCmd = &cobra.Command{
	Use:   "list-actions",
	Short: "List configured actions",
	Long: `Displays a summary of all actions defined in the configuration file.
With --handlers, lists the built-in handlers actions can use instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listHandlers {
			printHandlers(cmd.OutOrStdout(), handlers.DefaultRegistry())
			return nil
		}
		configPath := getConfigPath()
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration from '%s': %w", configPath, err)
		}
		printActions(cmd.OutOrStdout(), cfg.Actions)
		return nil
	},
}

func init() {
	listActionsCmd.Flags().BoolVar(&listHandlers, "handlers", false, "List the available handlers")
	rootCmd.AddCommand(listActionsCmd)
}

func printActions(w io.Writer, actions []models.ActionConfig) {
	fmt.Fprintln(w, "--- Configured Actions ---")
	if len(actions) == 0 {
		fmt.Fprintln(w, "No actions configured.")
		return
	}
	for i, action := range actions {
		fmt.Fprintf(w, "[%d] ID: %s\n", i, action.ID)
		if action.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", action.Description)
		}
		fmt.Fprintf(w, "    Handler: %s\n", action.Handler)
		if action.Options.Kind == yaml.MappingNode && len(action.Options.Content) > 0 {
			fmt.Fprintln(w, "    Options:")
			if out, err := yaml.Marshal(&action.Options); err == nil {
				for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
					fmt.Fprintf(w, "      %s\n", line)
				}
			}
		} else {
			fmt.Fprintln(w, "    Options: (defaults)")
		}
		if p := action.RetryPolicy; p != nil {
			fmt.Fprintf(w, "    Retry Policy: %s\n", formatRetry(p))
		}
		fmt.Fprintln(w, "---")
	}
}

func printHandlers(w io.Writer, r *handlers.Registry) {
	fmt.Fprintln(w, "--- Available Handlers ---")
	for _, d := range r.Definitions() {
		kinds := make([]string, len(d.Kinds))
		for i, k := range d.Kinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(w, "%s\n    %s\n    Events: %s\n", d.Name, d.Description, strings.Join(kinds, ", "))
	}
}

func formatRetry(p *models.RetryPolicy) string {
	var parts []string
	if p.MaxRetries != nil {
		parts = append(parts, fmt.Sprintf("max_retries=%d", *p.MaxRetries))
	}
	if p.Delay != nil {
		parts = append(parts, fmt.Sprintf("delay=%gs", *p.Delay))
	}
	if p.BackoffFactor != nil {
		parts = append(parts, fmt.Sprintf("backoff_factor=%g", *p.BackoffFactor))
	}
	if len(parts) == 0 {
		return "(defaults)"
	}
	return strings.Join(parts, " ")
}
