package locustctl

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/locust-cloud/locustctl/internal/common"
	"github.com/locust-cloud/locustctl/pkg/client"
	"github.com/locust-cloud/locustctl/pkg/client/cloudconfig"
	"github.com/locust-cloud/locustctl/pkg/client/domain"
	"github.com/locust-cloud/locustctl/pkg/client/encoding"
	"github.com/locust-cloud/locustctl/pkg/client/logstream"
)

// shutdownAckTimeout bounds how long an interrupted run waits for the
// remote side to acknowledge shutdown before releasing the stream.
const shutdownAckTimeout = 90 * time.Second

// Environment variables never forwarded to the load generators; they
// are either carried explicitly or only meaningful locally.
var forwardedEnvExclude = map[string]bool{
	"LOCUST_LOCUSTFILE":            true,
	"LOCUST_USERS":                 true,
	"LOCUST_WEB_HOST_DISPLAY_NAME": true,
	"LOCUST_SKIP_MONKEY_PATCH":     true,
}

// Run drives the full lifecycle: build the deployment request, submit
// it, relay the deployment's output until it shuts down (or the user
// interrupts), and tear the deployment down exactly once on every exit
// path. Teardown is suppressed only when the remote side reports that a
// different session owns the live deployment.
func (a *App) Run(ctx context.Context) error {
	session, err := a.newSession()
	if err != nil {
		return err
	}

	// Construction failures (missing files) must surface before any
	// deployment request is made.
	request, err := a.buildDeploymentRequest(session)
	if err != nil {
		return err
	}

	log.Info("Deploying load generators")
	handle, err := client.Deploy(ctx, session, request)
	if err != nil {
		// Nothing was created, so there is nothing to tear down.
		return err
	}
	log.Debug("Load generators deployed successfully")

	if !session.NonInteractive() && handle.DeploymentHash != "" {
		a.rememberDeploymentHash(handle.DeploymentHash)
	}

	log.Info("Waiting for load generators to be ready...")
	return a.superviseStream(ctx, session, handle)
}

// superviseStream relays the deployment's output until a terminal
// stream state or a local interrupt, then tears down.
func (a *App) superviseStream(ctx context.Context, session *client.ApiSession, handle *domain.DeploymentHandle) error {
	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := logstream.New(handle.LogStreamURL, handle.SessionID, a.Out, a.ErrOut)
	stream.Connect(signalCtx)
	// Streaming resources are released last on every path, even when
	// teardown fails.
	defer stream.Shutdown()

	a.startInputListener(handle.WebUIURL)

	interrupted := false
	select {
	case <-stream.Done():
	case <-signalCtx.Done():
		interrupted = true
		log.Debug("Interrupted by user")
		stream.BeginShutdown()
	}

	if state := stream.State(); state == logstream.SessionMismatch {
		// The live deployment is not this process's to delete.
		return errors.New("the live deployment belongs to another session; skipping teardown")
	}

	a.teardown(session, handle.DeploymentHash)

	if interrupted {
		// Give the remote side a bounded chance to acknowledge.
		stream.Wait(shutdownAckTimeout)
		return nil
	}

	if state := stream.State(); state == logstream.TimedOut {
		return errors.New("timed out waiting for the deployment to start streaming")
	}
	return nil
}

// teardown is best-effort cleanup: failures are logged but never
// escalate past this point.
func (a *App) teardown(session *client.ApiSession, deploymentHash string) {
	log.Info("Tearing down the cloud deployment...")
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	if err := client.Teardown(ctx, session, deploymentHash); err != nil {
		log.WithError(err).Error("Could not automatically tear down the cloud deployment")
		return
	}
	log.Info("Done!")
}

// startInputListener lets the user press Enter to open the deployment's
// web UI. Fire-and-forget: it is never joined and its failure never
// affects the main flow.
func (a *App) startInputListener(webuiURL string) {
	if webuiURL == "" || a.In == nil {
		return
	}
	log.Infof("Press Enter to open the deployment web UI (%s)", webuiURL)
	go func() {
		scanner := bufio.NewScanner(a.In)
		for scanner.Scan() {
			if err := a.openURL(webuiURL); err != nil {
				log.WithError(err).Debug("Failed to open browser")
			}
		}
	}()
}

// rememberDeploymentHash persists the hash so a later `locustctl
// delete` can disambiguate which deployment to remove.
func (a *App) rememberDeploymentHash(hash string) {
	store, err := a.configStore()
	if err == nil {
		var config cloudconfig.CloudConfig
		if config, err = store.Load(); err == nil {
			config.DeploymentHash = hash
			err = store.Save(config)
		}
	}
	if err != nil {
		log.WithError(err).Debug("Failed to persist deployment hash")
	}
}

func (a *App) buildDeploymentRequest(session *client.ApiSession) (*domain.DeploymentRequest, error) {
	locustfile := a.Params.Locustfile
	if locustfile == "" {
		locustfile = "locustfile.py"
	}
	payload, err := encoding.TransferEncodeFile(locustfile)
	if err != nil {
		return nil, err
	}

	users := a.Params.Users
	if users <= 0 {
		users = 1
	}

	request := &domain.DeploymentRequest{
		Locustfile:  payload,
		UserCount:   users,
		MockServer:  a.Params.MockServer,
		ImageTag:    a.Params.ImageTag,
		TestrunTags: a.Params.TestrunTags,
		LocustArgs:  a.locustArgs(session, users),
	}

	if a.Params.Requirements != "" {
		requirements, err := encoding.TransferEncodeFile(a.Params.Requirements)
		if err != nil {
			return nil, err
		}
		request.Requirements = &requirements
	}

	if len(a.Params.ExtraFiles) > 0 {
		extraFiles, err := encoding.TransferEncodeExtraFiles(a.Params.ExtraFiles)
		if err != nil {
			return nil, err
		}
		request.ExtraFiles = &extraFiles
	}

	if a.Params.Workers > 0 {
		workers := a.Params.Workers
		request.WorkerCount = &workers
	}

	return request, nil
}

// locustArgs builds the ordered environment handed to the load
// generators: the explicit settings first, then every LOCUST_* variable
// from the local environment that is not excluded.
func (a *App) locustArgs(session *client.ApiSession, users int) []domain.EnvVar {
	args := []domain.EnvVar{
		{Name: "LOCUST_USERS", Value: strconv.Itoa(users)},
		{Name: "LOCUST_FLAGS", Value: strings.Join(a.Params.ExtraArgs, " ")},
		{Name: "LOCUSTCLOUD_DEPLOYER_URL", Value: session.APIURL()},
		{Name: "LOCUSTCLOUD_PROFILE", Value: a.Params.Profile},
	}
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, "LOCUST_") || forwardedEnvExclude[name] {
			continue
		}
		args = append(args, domain.EnvVar{Name: name, Value: value})
	}
	return args
}
