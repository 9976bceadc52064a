package client

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locust-cloud/locustctl/pkg/client/domain"
)

func fastRetries(t *testing.T) {
	t.Helper()
	previous := deployRetryDelay
	deployRetryDelay = time.Millisecond
	t.Cleanup(func() { deployRetryDelay = previous })
}

func deploySession(t *testing.T) (*controlPlane, *ApiSession) {
	cp, _ := newControlPlane(t)
	cp.idToken = makeToken(t, "user-123", time.Now().Add(time.Hour))
	session, err := NewNonInteractiveSession(Credentials{
		Username: "user", Password: "pass", Region: "eu-north-1",
	})
	require.NoError(t, err)
	return cp, session
}

func TestDeploySucceedsFirstAttempt(t *testing.T) {
	cp, session := deploySession(t)

	var received domain.DeploymentRequest
	cp.mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"log_ws_url": "ws://example.invalid/logs",
			"session_id": "session-1",
		})
	})

	handle, err := Deploy(context.Background(), session, &domain.DeploymentRequest{
		Locustfile: domain.FilePayload{Filename: "locustfile.py", Data: "abc"},
		UserCount:  5,
	})

	require.NoError(t, err)
	assert.Equal(t, "ws://example.invalid/logs", handle.LogStreamURL)
	assert.Equal(t, "session-1", handle.SessionID)
	assert.Equal(t, "locustfile.py", received.Locustfile.Filename)
	assert.Equal(t, 5, received.UserCount)
}

func TestDeployRetriesWhileBusyThenSucceeds(t *testing.T) {
	fastRetries(t)
	cp, session := deploySession(t)

	attempts := 0
	cp.mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"Message": "previous deployment is tearing down",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"log_ws_url": "ws://example.invalid/logs",
			"session_id": "session-1",
		})
	})

	handle, err := Deploy(context.Background(), session, &domain.DeploymentRequest{})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "session-1", handle.SessionID)
}

func TestDeployGivesUpAfterRetryBudget(t *testing.T) {
	fastRetries(t)
	cp, session := deploySession(t)

	attempts := 0
	cp.mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"Message": "still tearing down"})
	})

	_, err := Deploy(context.Background(), session, &domain.DeploymentRequest{})

	require.Error(t, err)
	assert.Equal(t, deployAttempts, attempts)
	assert.Contains(t, err.Error(), "locustctl delete")
}

func TestDeployServerErrorIsTerminal(t *testing.T) {
	fastRetries(t)
	cp, session := deploySession(t)

	attempts := 0
	cp.mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"Message": "capacity exhausted"})
	})

	_, err := Deploy(context.Background(), session, &domain.DeploymentRequest{})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "capacity exhausted")
}

func TestDeployTransportErrorIsTerminal(t *testing.T) {
	fastRetries(t)
	_, session := deploySession(t)
	t.Setenv("LOCUSTCLOUD_DEPLOYER_URL", "http://127.0.0.1:1")
	session.apiURL = "http://127.0.0.1:1"

	_, err := Deploy(context.Background(), session, &domain.DeploymentRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to deploy the load generators")
}

func TestDeployHonorsContextCancellation(t *testing.T) {
	fastRetries(t)
	cp, session := deploySession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cp.mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"Message": "busy"})
	})

	_, err := Deploy(ctx, session, &domain.DeploymentRequest{})

	require.Error(t, err)
}
