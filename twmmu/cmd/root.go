// Package cmd provides the command-line interface of twmmu.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "twmmu",
	Short: "twmmu exercises a time-warp capable RISC-V MMU.",
	Long: `twmmu exercises a time-warp capable RISC-V MMU. Flag defaults ` +
		`can be given as TWMMU_* variables in the environment or in a .env ` +
		`file.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// A missing .env file is not an error.
	_ = godotenv.Load()
}
