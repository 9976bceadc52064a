package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/locust-cloud/locustctl/pkg/client/domain"
)

const (
	deployAttempts          = 15
	defaultDeployRetryDelay = 2 * time.Second
)

// deployRetryDelay is the fixed backoff between attempts while the
// control plane reports a previous deployment still tearing down.
// Var so tests can shorten it.
var deployRetryDelay = defaultDeployRetryDelay

// busyError indicates a 202 response: a previous deployment under the
// same account has not finished tearing down yet.
type busyError struct {
	message string
}

func (e *busyError) Error() string {
	return e.message
}

// errorResponse is the body the control plane sends with failure codes.
type errorResponse struct {
	Message string `json:"Message"`
}

// Deploy submits a deployment request and returns the handle of the
// resulting deployment. While the control plane reports a previous
// deployment still tearing down (HTTP 202) the request is retried with
// a fixed 2 second backoff, up to 15 attempts. Transport-level failures
// and any other status code are terminal.
func Deploy(ctx context.Context, session *ApiSession, request *domain.DeploymentRequest) (*domain.DeploymentHandle, error) {
	var handle *domain.DeploymentHandle
	busyReported := false

	err := retry.Do(
		func() error {
			resp, err := session.Post(ctx, "/deploy", request)
			if err != nil {
				return errors.Wrap(err, "failed to deploy the load generators")
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				var decoded domain.DeploymentHandle
				if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
					return errors.Wrap(err, "failed to decode deploy response")
				}
				handle = &decoded
				return nil
			case http.StatusAccepted:
				var busy errorResponse
				_ = json.NewDecoder(resp.Body).Decode(&busy)
				if !busyReported {
					// Only surface the first busy message, the retry
					// loop would otherwise repeat it every 2 seconds.
					log.Info(busy.Message)
					busyReported = true
				}
				return &busyError{message: busy.Message}
			default:
				return errors.WithStack(deployFailure(resp))
			}
		},
		retry.Attempts(deployAttempts),
		retry.Delay(deployRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var busy *busyError
			return errors.As(err, &busy)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		var busy *busyError
		if errors.As(err, &busy) {
			return nil, errors.Errorf(
				"a previous deployment is still tearing down after %d attempts; run `locustctl delete` and try again",
				deployAttempts)
		}
		return nil, err
	}
	return handle, nil
}

// deployFailure turns a terminal deploy response into an error,
// preferring the control plane's own message when the body carries one.
func deployFailure(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		return errors.Errorf("%s (HTTP %s)", decoded.Message, resp.Status)
	}
	return errors.Errorf("HTTP %s - response: %s", resp.Status, string(body))
}
