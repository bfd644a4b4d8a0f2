package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pbaity/hubscript/internal/config"
	"github.com/spf13/cobra"
)

var stopWait time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the hubscript daemon",
	Long:  `Stops the running daemon by sending SIGTERM to the process recorded in the configured PID file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Stopping hubscript daemon...")
		pid, pidFilePath, err := readPIDFile()
		if err != nil {
			return err
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("finding process with PID %d (from %s): %w", pid, pidFilePath, err)
		}

		fmt.Printf("Sending SIGTERM to process with PID %d...\n", pid)
		if err := process.Signal(syscall.SIGTERM); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				fmt.Printf("Process with PID %d already exited. Removing stale PID file.\n", pid)
				_ = os.Remove(pidFilePath)
				return nil
			}
			return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
		}

		// The daemon removes its PID file on the way out.
		deadline := time.Now().Add(stopWait)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(pidFilePath); os.IsNotExist(err) {
				fmt.Printf("hubscript (PID %d) stopped.\n", pid)
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Printf("Signal sent to PID %d. Check logs for shutdown status.\n", pid)
		return nil
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopWait, "wait", 10*time.Second, "How long to wait for the daemon to exit")
	rootCmd.AddCommand(stopCmd)
}

// readPIDFile loads the configuration and returns the PID it points to.
func readPIDFile() (int, string, error) {
	configPath := getConfigPath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return 0, "", fmt.Errorf("loading configuration from '%s' to find PID file: %w", configPath, err)
	}
	pidFilePath := cfg.Application.PIDFilePath
	if pidFilePath == "" {
		return 0, "", errors.New("pid_file_path not configured in application settings")
	}

	pidBytes, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, pidFilePath, fmt.Errorf("PID file not found at '%s'; is the daemon running?", pidFilePath)
		}
		return 0, pidFilePath, fmt.Errorf("reading PID file '%s': %w", pidFilePath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return 0, pidFilePath, fmt.Errorf("parsing PID from file '%s': %w", pidFilePath, err)
	}
	if pid <= 0 {
		return 0, pidFilePath, fmt.Errorf("invalid PID %d found in file '%s'", pid, pidFilePath)
	}
	return pid, pidFilePath, nil
}

// pidFromConfig reports whether the daemon named by the configured PID file is running.
func pidFromConfig() (int, bool) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil || cfg.Application.PIDFilePath == "" {
		return 0, false
	}
	return runningPID(cfg.Application.PIDFilePath)
}
