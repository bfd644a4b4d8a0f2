package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Print how to start the hubscript daemon in the background",
	Long: `hubscript does not daemonize itself. 'start' prints the command that runs
'hubscript run' detached from the terminal with its output sent to a log file.`,
	Run: func(cmd *cobra.Command, args []string) {
		if pid, running := pidFromConfig(); running {
			fmt.Fprintf(os.Stderr, "hubscript is already running with PID %d.\n", pid)
			os.Exit(1)
		}
		printStartHint(cmd.OutOrStdout(), os.Args[0], runArgs(cmd.Flags()))
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// runArgs rebuilds the 'run' invocation from the flags set on the command line.
// Only persistent flags are forwarded since 'run' knows no others.
func runArgs(flags *pflag.FlagSet) []string {
	args := []string{"run"}
	flags.Visit(func(f *pflag.Flag) {
		if rootCmd.PersistentFlags().Lookup(f.Name) == nil {
			return
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	return args
}

func printStartHint(w io.Writer, executable string, args []string) {
	fmt.Fprintln(w, "---------------------------------------------------------------------")
	fmt.Fprintln(w, "Run the following command to start hubscript in the background:")
	fmt.Fprintf(w, "\nnohup %s %s > hubscript.log 2>&1 &\n\n", executable, strings.Join(args, " "))
	fmt.Fprintln(w, "Use 'hubscript stop' to shut it down gracefully.")
	fmt.Fprintln(w, "---------------------------------------------------------------------")
}
