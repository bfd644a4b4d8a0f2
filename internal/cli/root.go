package cli

import (
	"net"
	"strings"

	"github.com/pbaity/hubscript/internal/config"
	"github.com/pbaity/hubscript/internal/server"
	"github.com/spf13/cobra"
)

var (
	// cfgFile will hold the path to the config file, bound to the persistent flag
	cfgFile string
	// daemonFlag overrides the daemon URL derived from listen_addr.
	daemonFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hubscript",
	Short: "hubscript runs trigger handlers for a digital asset management hub",
	Long: `hubscript receives entity lifecycle events from the DAM platform
(creation, modification, user sign-in, asset processing), runs the
configured trigger handlers and answers with allow, mutate or reject.

Run 'hubscript help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&daemonFlag, "daemon", "", "Daemon base URL (default derived from application.listen_addr)")
}

// Helper function to get the config file path (used by commands)
func getConfigPath() string {
	return cfgFile
}

// daemonURL returns the base URL of the running daemon.
func daemonURL() string {
	if daemonFlag != "" {
		return strings.TrimRight(daemonFlag, "/")
	}
	addr := server.DefaultListenAddr
	if cfg, err := config.LoadConfig(getConfigPath()); err == nil {
		addr = cfg.Application.ListenAddr
	}
	return baseURL(addr)
}

// baseURL turns a listen address into a URL reachable from this host.
func baseURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
