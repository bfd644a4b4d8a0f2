package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pbaity/hubscript/internal/server"
	"github.com/spf13/cobra"
)

// reloadCmd represents the reload command
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload triggers and actions in the running daemon",
	Long: `Asks the running daemon to re-read its configuration file and swap in the
new triggers and actions. The previous set stays active when the new one is invalid.
Listener and application settings need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Requesting daemon to reload configuration...")
		status, body, err := postDaemon(daemonURL()+server.ReloadPath, "", nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("daemon returned status %d: %s", status, strings.TrimSpace(string(body)))
		}
		fmt.Printf("Daemon response: %s\n", strings.TrimSpace(string(body)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

var daemonClient = &http.Client{Timeout: 30 * time.Second}

// postDaemon sends a POST to the daemon and returns the status and a bounded body.
func postDaemon(url, contentType string, body io.Reader) (int, []byte, error) {
	if contentType == "" {
		contentType = "application/json"
	}
	resp, err := daemonClient.Post(url, contentType, body)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request to daemon at %s: %w (is the hubscript daemon running?)", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading daemon response: %w", err)
	}
	return resp.StatusCode, data, nil
}
