// Package auth implements the browser-based CLI authorization flow:
// the control plane hands out a URL for the user to authorize in a
// browser, and the CLI polls a result URL until the request is
// authorized or rejected.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/locust-cloud/locustctl/pkg/client"
)

// pollInterval is how often the result URL is polled. Var so tests can
// shorten it.
var pollInterval = time.Second

// CLIAuthInfo is handed out by POST /cli-auth.
type CLIAuthInfo struct {
	AuthenticationURL string `json:"authentication_url"`
	ResultURL         string `json:"result_url"`
}

// Result is the outcome of an authorization request.
type Result struct {
	State               string `json:"state"`
	Reason              string `json:"reason,omitempty"`
	IDToken             string `json:"id_token,omitempty"`
	RefreshToken        string `json:"refresh_token,omitempty"`
	RefreshTokenExpires int64  `json:"refresh_token_expires,omitempty"`
}

// Authorization request states reported by the control plane.
const (
	StatePending    = "pending"
	StateFailed     = "failed"
	StateAuthorized = "authorized"
)

// Begin starts an authorization request against the given region.
func Begin(ctx context.Context, region string) (*CLIAuthInfo, error) {
	url := client.APIBaseURL(region) + "/cli-auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("X-Client-Version", client.Version)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start CLI authorization")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("failed to start CLI authorization: HTTP %s - %s", resp.Status, string(body))
	}

	var info CLIAuthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "failed to decode CLI authorization response")
	}
	return &info, nil
}

// AwaitResult polls the result URL until the request leaves the pending
// state or ctx is cancelled.
func AwaitResult(ctx context.Context, resultURL string) (*Result, error) {
	for {
		result, err := fetchResult(ctx, resultURL)
		if err != nil {
			return nil, err
		}

		switch result.State {
		case StatePending:
		case StateAuthorized:
			return result, nil
		case StateFailed:
			return nil, errors.Errorf("failed to authorize CLI: %s", result.Reason)
		default:
			return nil, errors.Errorf("got unexpected authorization state %q", result.State)
		}

		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func fetchResult(ctx context.Context, resultURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to poll authorization result")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("failed to poll authorization result: HTTP %s - %s", resp.Status, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode authorization result")
	}
	return &result, nil
}
