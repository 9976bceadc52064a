package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// teardownRequest disambiguates which deployment to delete when the
// account has had several. The payload shape is versioned; when no hash
// is known an empty body is sent and the control plane deletes the
// account's live deployment.
type teardownRequest struct {
	DeploymentHash string `json:"deployment_hash"`
}

type teardownResponse struct {
	Message string `json:"message"`
}

// Teardown requests deletion of the deployment's remote resources.
func Teardown(ctx context.Context, session *ApiSession, deploymentHash string) error {
	var payload interface{}
	if deploymentHash != "" {
		payload = &teardownRequest{DeploymentHash: deploymentHash}
	}

	resp, err := session.Delete(ctx, "/teardown", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.Errorf("teardown failed: HTTP %s - response: %s", resp.Status, string(body))
	}

	var decoded teardownResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil && decoded.Message != "" {
		log.Debugf("Response message from teardown: %s", decoded.Message)
	}
	return nil
}
