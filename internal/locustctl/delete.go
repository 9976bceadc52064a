package locustctl

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/locust-cloud/locustctl/pkg/client"
)

// Delete tears down a running deployment without deploying anything.
// Useful if a previous run was killed or disconnected. Teardown is
// best-effort cleanup; failures are logged, not escalated.
func (a *App) Delete(ctx context.Context) error {
	session, err := a.newSession()
	if err != nil {
		return err
	}

	var deploymentHash string
	if !session.NonInteractive() {
		if store, err := a.configStore(); err == nil {
			if config, err := store.Load(); err == nil {
				deploymentHash = config.DeploymentHash
			}
		}
	}

	log.Info("Tearing down the cloud deployment...")
	if err := client.Teardown(ctx, session, deploymentHash); err != nil {
		log.WithError(err).Error("Could not automatically tear down the cloud deployment")
		return nil
	}
	log.Info("Done!")
	return nil
}
