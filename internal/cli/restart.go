package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the hubscript daemon",
	Long:  `Stops the running daemon and prints the command to start it again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Restarting hubscript daemon...")

		fmt.Println("\n--- Stopping ---")
		if err := stopCmd.RunE(cmd, nil); err != nil {
			return err
		}

		fmt.Println("\n--- Starting ---")
		startCmd.Run(cmd, nil)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
