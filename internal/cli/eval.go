package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/pbaity/hubscript/internal/action"
	"github.com/pbaity/hubscript/internal/audit"
	"github.com/pbaity/hubscript/internal/config"
	"github.com/pbaity/hubscript/internal/dispatch"
	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	evalFixture string
	evalApply   bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <event.json>",
	Short: "Dispatch an event locally against the fixture host",
	Long: `Runs an event through the configured triggers in-process, using the
in-memory host seeded from the fixture file, and prints the decision.
With --apply, pending mutations are applied to the fixture host and the
affected entities are printed. The fixture file itself is never written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(getConfigPath())
		if err != nil {
			return err
		}
		if err := logger.Init(models.ApplicationSettings{LogLevel: "warn", LogFormat: cfg.Application.LogFormat}, cmd.ErrOrStderr()); err != nil {
			return err
		}
		fixture := cfg.Application.FixturePath
		if evalFixture != "" {
			fixture = evalFixture
		}
		mh, err := host.LoadFixture(fixture)
		if err != nil {
			return err
		}
		ev, err := readEventFile(args[0])
		if err != nil {
			return err
		}
		if ev.SourceID == "" {
			ev.SourceID = "eval"
		}

		dec, err := evalEvent(cmd.Context(), cfg, mh, ev, evalApply, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if dec.Outcome.Blocking() {
			return fmt.Errorf("event %s: %s", dec.EventID, dec.Outcome.Kind)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalFixture, "fixture", "", "Host fixture file (default application.fixture_path)")
	evalCmd.Flags().BoolVar(&evalApply, "apply", false, "Apply pending mutations and print the resulting entities")
	rootCmd.AddCommand(evalCmd)
}

// evalEvent dispatches ev against mh and prints the decision to w.
func evalEvent(ctx context.Context, cfg *models.Config, mh *host.MemoryHost, ev models.Event, apply bool, w io.Writer) (dispatch.Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := dispatch.New(cfg, action.NewExecutor(handlers.DefaultRegistry()), mh.Host(), audit.NopStore{})
	if err != nil {
		return dispatch.Decision{}, err
	}
	dec := d.Dispatch(ctx, ev)
	printDecision(w, dec)

	if !apply || dec.Outcome.Kind != models.OutcomeAllowWithMutation {
		return dec, nil
	}
	if len(dec.Pending) > 0 {
		if err := mh.Apply(ctx, dec.Pending); err != nil {
			return dec, fmt.Errorf("applying mutations: %w", err)
		}
	}
	var ids []int64
	for _, m := range dec.Outcome.Mutations {
		if !slices.Contains(ids, m.EntityID) {
			ids = append(ids, m.EntityID)
		}
	}
	fmt.Fprintln(w, "\nResulting entities:")
	for _, id := range ids {
		e, ok := mh.Entity(id)
		if !ok {
			continue
		}
		out, err := yaml.Marshal(e)
		if err != nil {
			return dec, err
		}
		fmt.Fprintf(w, "---\n%s", out)
	}
	return dec, nil
}

// printDecision writes a coloured verdict followed by its details.
func printDecision(w io.Writer, dec dispatch.Decision) {
	out := dec.Outcome
	switch out.Kind {
	case models.OutcomeAllow:
		color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ ALLOW")
	case models.OutcomeAllowWithMutation:
		color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ ALLOW WITH MUTATION")
	case models.OutcomeReject:
		color.New(color.FgRed, color.Bold).Fprintf(w, "✗ REJECT (%s)", out.RejectKind)
	case models.OutcomeFatal:
		c := color.New(color.FgMagenta, color.Bold)
		if out.IsConfigurationError() {
			c.Fprintf(w, "✗ FATAL (configuration)")
		} else {
			c.Fprintf(w, "✗ FATAL")
		}
	}
	fmt.Fprintf(w, "  event %s (%s)\n", dec.EventID, dec.Kind)

	if len(dec.TriggerIDs) > 0 {
		fmt.Fprintf(w, "  triggers:   %v\n", dec.TriggerIDs)
	} else {
		fmt.Fprintln(w, "  triggers:   none matched")
	}
	if dec.DecidedBy != "" {
		fmt.Fprintf(w, "  decided by: %s\n", dec.DecidedBy)
	}
	if out.Reason != "" {
		fmt.Fprintf(w, "  reason:     %s\n", out.Reason)
	}
	for _, f := range out.Failures {
		color.New(color.FgYellow).Fprintf(w, "  - %s", f.Message)
		fmt.Fprintf(w, " (value %q)\n", f.Value)
	}
	for _, m := range out.Mutations {
		state := "applied by handler"
		if slices.ContainsFunc(dec.Pending, func(p models.Mutation) bool { return mutationEqual(p, m) }) {
			state = "pending"
		}
		fmt.Fprintf(w, "  %s %s on entity %d: %s [%s]\n", m.Kind, m.Member, m.EntityID, mutationValue(m), state)
	}
	if dec.Retries > 0 {
		fmt.Fprintf(w, "  retries:    %d\n", dec.Retries)
	}
}

func mutationValue(m models.Mutation) string {
	switch m.Kind {
	case models.MutationSetParent:
		return fmt.Sprint(m.Parent)
	case models.MutationSetParents:
		return fmt.Sprint(m.Parents)
	default:
		return fmt.Sprintf("%q", fmt.Sprint(m.Value))
	}
}

func mutationEqual(a, b models.Mutation) bool {
	return a.Kind == b.Kind && a.EntityID == b.EntityID && a.Member == b.Member &&
		a.Parent == b.Parent && slices.Equal(a.Parents, b.Parents) && fmt.Sprint(a.Value) == fmt.Sprint(b.Value)
}
