package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pbaity/hubscript/internal/dispatch"
	"github.com/pbaity/hubscript/internal/server"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/spf13/cobra"
)

var triggerSource string

// triggerCmd represents the trigger command
var triggerCmd = &cobra.Command{
	Use:   "trigger <event.json>",
	Short: "Send an event to the running daemon",
	Long: `Sends a lifecycle event read from a JSON file ('-' for stdin) to the running
daemon. Synchronous events print the daemon's decision; processing events are queued.
Example: hubscript trigger examples/modify-asset.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := readEventFile(args[0])
		if err != nil {
			return err
		}
		if triggerSource != "" {
			ev.SourceID = triggerSource
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}

		status, body, err := postDaemon(daemonURL()+server.TriggerPath, "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		return reportTrigger(cmd.OutOrStdout(), status, body)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerSource, "source", "", "Source id recorded for the event (default \"manual\")")
	rootCmd.AddCommand(triggerCmd)
}

// readEventFile decodes an event from path, or stdin when path is "-".
func readEventFile(path string) (models.Event, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("reading event file '%s': %w", path, err)
	}
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, fmt.Errorf("parsing event file '%s': %w", path, err)
	}
	return ev, nil
}

// reportTrigger prints the daemon's answer. Rejections and failures return an error.
func reportTrigger(w io.Writer, status int, body []byte) error {
	switch status {
	case http.StatusAccepted:
		var queued map[string]string
		_ = json.Unmarshal(body, &queued)
		fmt.Fprintf(w, "Event %s queued by daemon.\n", queued["event_id"])
		return nil
	case http.StatusOK, http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusInternalServerError:
		var dec dispatch.Decision
		if err := json.Unmarshal(body, &dec); err != nil {
			return fmt.Errorf("daemon returned status %d: %s", status, bytes.TrimSpace(body))
		}
		printDecision(w, dec)
		if dec.Outcome.Blocking() {
			return fmt.Errorf("event %s: %s", dec.EventID, dec.Outcome.Kind)
		}
		return nil
	default:
		return fmt.Errorf("daemon returned status %d: %s", status, bytes.TrimSpace(body))
	}
}
