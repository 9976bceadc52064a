package cmd

import (
	"github.com/spf13/cobra"

	"github.com/locust-cloud/locustctl/internal/locustctl"
)

// deleteCmd tears down a running deployment without starting a new one.
func deleteCmd(app *locustctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a running deployment.",
		Long:  `Delete a running deployment. Useful if locustctl was killed or disconnected, or if there was an error.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Delete(cmd.Context())
		},
	}
	return cmd
}
