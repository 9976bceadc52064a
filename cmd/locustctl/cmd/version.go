package cmd

import (
	"github.com/spf13/cobra"

	"github.com/locust-cloud/locustctl/internal/locustctl"
)

// versionCmd prints version info and exits.
func versionCmd(app *locustctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Version()
		},
	}
}
