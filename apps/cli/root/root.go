package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the schoolspace CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "schoolspace",
	Short:         "Schoolspace tenant namespace CLI",
	Long:          "Migrates a shared-schema deployment into one namespace per school and manages those namespaces.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before reading the environment")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
