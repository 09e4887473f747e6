package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the asistencia CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "asistencia",
		Short: "Offline-first field attendance",
		Long: `Record field attendance with photo and GPS evidence, even without
connectivity. Writes made offline are queued locally and synchronized
with the gateway once the network returns.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Gateway
	cmd.AddCommand(NewServeCommand(opts))

	// Field client
	cmd.AddCommand(NewMarkCommand(opts))
	cmd.AddCommand(NewFollowUpCommand(opts))
	cmd.AddCommand(NewLocateCommand(opts))
	cmd.AddCommand(NewTodayCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAgentCommand(opts))

	// Scenarios
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
