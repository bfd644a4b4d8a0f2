package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pbaity/hubscript/internal/action"
	"github.com/pbaity/hubscript/internal/audit"
	"github.com/pbaity/hubscript/internal/config"
	"github.com/pbaity/hubscript/internal/dispatch"
	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/listener"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/queue"
	"github.com/pbaity/hubscript/internal/server"
	"github.com/pbaity/hubscript/internal/worker"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hubscript daemon in the foreground",
	Long: `Loads the configuration, seeds the host from the fixture file, and serves
the configured webhooks and control endpoints until SIGINT or SIGTERM.
SIGHUP reloads triggers and actions from the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForeground(getConfigPath())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runForeground contains the main application logic for running the daemon.
func runForeground(configPath string) error {
	registry := handlers.DefaultRegistry()
	cfg, err := config.LoadConfigWith(configPath, registry)
	if err != nil {
		return fmt.Errorf("loading configuration from '%s': %w", configPath, err)
	}

	if err := logger.Init(cfg.Application, nil); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.L()
	log.Info("hubscript running in foreground...", "config", configPath)

	// --- PID File Handling ---
	pidFilePath := cfg.Application.PIDFilePath
	if pidFilePath != "" {
		if pid, running := runningPID(pidFilePath); running {
			log.Error("PID file exists and process is running. Aborting.", "path", pidFilePath, "pid", pid)
			return fmt.Errorf("process with PID %d found (from %s); is hubscript already running?", pid, pidFilePath)
		}
		if _, err := os.Stat(pidFilePath); err == nil {
			log.Warn("Removing stale PID file", "path", pidFilePath)
			_ = os.Remove(pidFilePath)
		}

		currentPid := os.Getpid()
		log.Info("Writing PID file", "path", pidFilePath, "pid", currentPid)
		if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(currentPid)), 0644); err != nil {
			log.Error("Failed to write PID file", "error", err)
		}
		defer func() {
			log.Info("Removing PID file on exit", "path", pidFilePath)
			_ = os.Remove(pidFilePath)
		}()
	}

	// --- Service Initialization ---
	log.Debug("Initializing services...")
	memHost, err := host.LoadFixture(cfg.Application.FixturePath)
	if err != nil {
		return err
	}
	auditStore, err := audit.Open(cfg.Application.AuditLogPath)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditStore.Close()

	dispatcher, err := dispatch.New(cfg, action.NewExecutor(registry), memHost.Host(), auditStore)
	if err != nil {
		return err
	}
	reload := func(ctx context.Context) error {
		next, err := config.LoadConfigWith(configPath, registry)
		if err != nil {
			return err
		}
		return dispatcher.Reload(next)
	}

	eventQueue := queue.NewEventQueue(cfg.Application.MaxConcurrency*2, cfg.Application.QueuePersistPath)
	httpServer := server.NewHTTPServer(cfg, eventQueue, dispatcher, reload)
	listenerService := listener.NewService(cfg, eventQueue, dispatcher, httpServer.Mux())
	workerPool := worker.NewPool(cfg.Application, eventQueue, dispatcher)
	log.Debug("Services initialized")

	// --- Start Services ---
	log.Info("Starting services...")
	if err := eventQueue.Start(); err != nil {
		return fmt.Errorf("starting event queue: %w", err)
	}
	if err := listenerService.Start(); err != nil {
		_ = eventQueue.Stop()
		return fmt.Errorf("registering listeners: %w", err)
	}
	httpServer.Start()
	workerPool.Start()
	log.Info("All services started successfully", "address", httpServer.Addr())

	// --- Signal Handling ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Info("Received SIGHUP, reloading configuration")
			if err := reload(context.Background()); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig.String())
		break
	}

	// --- Graceful Shutdown ---
	// HTTP first so no new events arrive, then workers, then the queue so
	// unprocessed events are persisted.
	log.Info("Initiating graceful shutdown...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Application.ShutdownTimeout.Duration)
	defer cancelShutdown()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", "error", err)
	}
	workerPool.Stop()
	if err := eventQueue.Stop(); err != nil {
		log.Error("Error stopping event queue", "error", err)
	}

	log.Info("hubscript shut down gracefully")
	return nil
}

// runningPID reports the PID recorded at path when that process is alive.
func runningPID(path string) (int, bool) {
	pidBytes, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}
