package cmd

import (
	"github.com/spf13/cobra"

	"github.com/locust-cloud/locustctl/internal/locustctl"
)

// loginCmd launches the browser-based authorization flow. Once
// completed the credentials are stored and refreshed automatically
// until they expire, at which point another login is required.
func loginCmd(app *locustctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate your user interactively.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Login(cmd.Context())
		},
	}
	cmd.Flags().String("region", "", "region to authenticate against; prompted for when not given")
	return cmd
}
