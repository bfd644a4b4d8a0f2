package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pbaity/hubscript/internal/config"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/spf13/cobra"
)

var listTriggersCmd = &cobra.Command{
	Use:   "list-triggers",
	Short: "List configured listeners and triggers",
	Long:  `Displays a summary of all webhook listeners and triggers defined in the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := getConfigPath()
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration from '%s': %w", configPath, err)
		}
		w := cmd.OutOrStdout()
		printListeners(w, cfg.Listeners)
		fmt.Fprintln(w)
		printTriggers(w, cfg.Triggers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listTriggersCmd)
}

func printListeners(w io.Writer, listeners []models.ListenerConfig) {
	fmt.Fprintln(w, "--- Configured Listeners ---")
	if len(listeners) == 0 {
		fmt.Fprintln(w, "No listeners configured.")
		return
	}
	for i, l := range listeners {
		fmt.Fprintf(w, "[%d] ID: %s\n", i, l.ID)
		if l.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", l.Description)
		}
		fmt.Fprintf(w, "    Path: %s\n", l.Path)
		fmt.Fprintf(w, "    Auth Required: %t\n", l.AuthToken != "")
		rateLimitStr := "N/A"
		if l.RateLimit != nil {
			burstStr := ""
			if l.Burst != nil {
				burstStr = fmt.Sprintf(" (Burst: %d)", *l.Burst)
			}
			rateLimitStr = fmt.Sprintf("%.2f req/s%s", *l.RateLimit, burstStr)
		}
		fmt.Fprintf(w, "    Rate Limit: %s\n", rateLimitStr)
		fmt.Fprintln(w, "---")
	}
}

func printTriggers(w io.Writer, triggers []models.TriggerConfig) {
	fmt.Fprintln(w, "--- Configured Triggers ---")
	if len(triggers) == 0 {
		fmt.Fprintln(w, "No triggers configured.")
		return
	}
	for i, t := range triggers {
		status := ""
		if t.Disabled {
			status = " (disabled)"
		}
		fmt.Fprintf(w, "[%d] ID: %s%s\n", i, t.ID, status)
		if t.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", t.Description)
		}
		objectives := make([]string, len(t.Objectives))
		for j, k := range t.Objectives {
			objectives[j] = string(k)
		}
		fmt.Fprintf(w, "    Objectives: %s\n", strings.Join(objectives, ", "))
		if t.Definition != "" {
			fmt.Fprintf(w, "    Definition: %s\n", t.Definition)
		}
		for _, phase := range models.Phases {
			if ids := t.ActionIDs(phase); len(ids) > 0 {
				fmt.Fprintf(w, "    %s: %s\n", phase, strings.Join(ids, " → "))
			}
		}
		fmt.Fprintln(w, "---")
	}
}
