package cmd

import (
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/locust-cloud/locustctl/internal/common"
	"github.com/locust-cloud/locustctl/internal/locustctl"
)

// Execute runs the root Cobra command; errors are logged and reported
// through the exit code.
func Execute() error {
	cmd := RootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		return err
	}
	return nil
}

// RootCmd is the root Cobra command that gets called from the main
// func. Running it without a subcommand deploys the load generators and
// streams their output. All other sub-commands are registered here.
func RootCmd() *cobra.Command {
	return newRootCmd(locustctl.New())
}

func newRootCmd(app *locustctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locustctl [flags] [-- extra load-test args]",
		Short: "locustctl runs distributed load tests on cloud infrastructure.",
		Long: `locustctl deploys a distributed load test on cloud infrastructure, relays
its output until the test finishes or is interrupted, and tears the
deployment down.

Arguments after -- are forwarded to the load-test master unmodified.
Persistent config can be saved in $HOME/.locustctl.yaml; every flag can
also be set through a LOCUSTCLOUD_* environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Params.ExtraArgs = args
			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().StringP("locustfile", "f", "locustfile.py", "the file that contains your test")
	cmd.Flags().IntP("users", "u", 1, "number of users to launch; also affects how many workers are provisioned")
	cmd.Flags().Int("workers", 0, "number of workers to use for the deployment; defaults to a per-account policy based on users")
	cmd.Flags().String("requirements", "", "optional requirements.txt file with your external libraries")
	cmd.Flags().StringSlice("extra-files", nil, "extra files or directories to upload, e.g. --extra-files testdata.csv,my-directory")
	cmd.Flags().StringSlice("testrun-tags", nil, "tags that can be used to filter test runs")
	cmd.Flags().String("profile", "", "profile to group the test runs together")
	cmd.Flags().String("image-tag", "", "override the deployment image tag, for internal use")
	_ = cmd.Flags().MarkHidden("image-tag")
	cmd.Flags().Bool("mock-server", false, "start a demo mock service and point the test towards it")

	cmd.PersistentFlags().Bool("non-interactive", false,
		"for CI/CD use; requires LOCUSTCLOUD_USERNAME, LOCUSTCLOUD_PASSWORD and LOCUSTCLOUD_REGION to be set")
	cmd.PersistentFlags().StringP("loglevel", "L", "info", "log level; use debug for extra info")

	cmd.AddCommand(
		deleteCmd(app),
		loginCmd(app),
		versionCmd(app),
	)

	return cmd
}

// initParams merges flags, environment variables and the optional
// config file into the App's parameter struct.
func initParams(cmd *cobra.Command, app *locustctl.App) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	viper.SetEnvPrefix("LOCUSTCLOUD")
	// Dashed flag names map to underscored environment variables,
	// e.g. --non-interactive to LOCUSTCLOUD_NON_INTERACTIVE.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// The load-test tool's own variables name these two as well.
	_ = viper.BindEnv("locustfile", "LOCUSTCLOUD_LOCUSTFILE", "LOCUST_LOCUSTFILE")
	_ = viper.BindEnv("users", "LOCUSTCLOUD_USERS", "LOCUST_USERS")

	if err := mergeConfigFile(); err != nil {
		return err
	}

	app.Params.Locustfile = viper.GetString("locustfile")
	app.Params.Users = viper.GetInt("users")
	app.Params.Workers = viper.GetInt("workers")
	app.Params.Requirements = viper.GetString("requirements")
	app.Params.ExtraFiles = viper.GetStringSlice("extra-files")
	app.Params.TestrunTags = viper.GetStringSlice("testrun-tags")
	app.Params.Profile = viper.GetString("profile")
	app.Params.ImageTag = viper.GetString("image-tag")
	app.Params.MockServer = viper.GetBool("mock-server")
	app.Params.NonInteractive = viper.GetBool("non-interactive")
	app.Params.Region = viper.GetString("region")
	app.Params.LogLevel = viper.GetString("loglevel")

	return common.SetLogLevel(app.Params.LogLevel)
}

// mergeConfigFile reads $HOME/.locustctl.yaml when present. A missing
// file is not an error.
func mergeConfigFile() error {
	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	viper.AddConfigPath(home)
	viper.SetConfigName(".locustctl")

	if err := viper.MergeInConfig(); err != nil {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
			// Users don't have to have one.
		case *os.PathError:
		default:
			return err
		}
	}
	return nil
}
