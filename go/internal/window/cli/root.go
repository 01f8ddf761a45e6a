package cli

import (
	"github.com/spf13/cobra"

	"github.com/directorio/directorio/go/internal/config"
)

type Dependencies struct {
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "directorio",
		Short:        "Run a stage timer window",
		Long:         "Runs a meeting stage countdown in the terminal, kept in sync with the other windows of the same room.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewStateCmd(deps))

	return rootCmd
}
