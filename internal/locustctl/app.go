// Package locustctl contains the application logic behind the
// locustctl commands: provisioning a cloud deployment, supervising its
// output stream, and guaranteeing teardown on every exit path.
package locustctl

import (
	"io"
	"os"

	"github.com/pkg/browser"

	"github.com/locust-cloud/locustctl/pkg/client"
	"github.com/locust-cloud/locustctl/pkg/client/cloudconfig"
)

// Params holds all user-customizable parameters. A single explicit
// struct, passed into the App, keeps all configuration in one place
// with no process-wide mutable option state.
type Params struct {
	// Locustfile is the test script to upload. Defaults to locustfile.py.
	Locustfile string
	// Users is the number of simulated users, which also drives how
	// many workers the control plane provisions.
	Users int
	// Workers overrides the control plane's worker-count default when
	// positive.
	Workers int
	// Requirements optionally names a requirements.txt with extra
	// libraries for the load generators.
	Requirements string
	// ExtraFiles are additional files or directories to upload,
	// relative to the current working directory.
	ExtraFiles []string
	// ExtraArgs are forwarded to the load-test master unmodified.
	ExtraArgs []string
	// TestrunTags group test runs for later filtering.
	TestrunTags []string
	// Profile groups test runs under a named profile.
	Profile string
	// ImageTag overrides the deployment image. For internal use.
	ImageTag string
	// MockServer makes the deployment start a demo mock service to
	// point the test at.
	MockServer bool
	// NonInteractive uses environment credentials instead of stored
	// ones, for CI/CD use.
	NonInteractive bool
	// Region selects the region for login; interactive prompt if empty.
	Region string
	// LogLevel is the logrus level name.
	LogLevel string
}

// App is the top-level orchestrator for the locustctl commands.
type App struct {
	Params *Params
	// Out is used for relayed deployment output and user-facing prints.
	// Defaults to standard out, but can be overridden in tests to make
	// assertions on the application's output.
	Out io.Writer
	// ErrOut receives the deployment's stderr relay. Defaults to
	// standard error.
	ErrOut io.Writer
	// In is the source of interactive input (region choice, the
	// open-web-UI listener). Defaults to standard input.
	In io.Reader
	// ConfigStore overrides the credential store location. Nil means
	// the per-user default.
	ConfigStore *cloudconfig.Store
	// OpenURL opens a URL in the user's browser. Nil means the system
	// default browser. Failures never affect the main flow.
	OpenURL func(url string) error
}

// New instantiates an App with default parameters wired to the standard
// streams.
func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

func (a *App) configStore() (*cloudconfig.Store, error) {
	if a.ConfigStore != nil {
		return a.ConfigStore, nil
	}
	return cloudconfig.DefaultStore()
}

// newSession builds the authenticated session for this invocation,
// either from environment credentials or from stored ones.
func (a *App) newSession() (*client.ApiSession, error) {
	if a.Params.NonInteractive {
		creds, err := client.CredentialsFromEnvironment()
		if err != nil {
			return nil, err
		}
		return client.NewNonInteractiveSession(creds)
	}

	store, err := a.configStore()
	if err != nil {
		return nil, err
	}
	return client.NewInteractiveSession(store)
}

func (a *App) openURL(url string) error {
	if a.OpenURL != nil {
		return a.OpenURL(url)
	}
	return browser.OpenURL(url)
}
