package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/locust-cloud/locustctl/pkg/client/cloudconfig"
)

// TokenExpiryMargin is subtracted from the access token's true expiry
// so a token is refreshed one minute before the server would reject it.
const TokenExpiryMargin = 60 * time.Second

// refreshTokenMinValidity is the remaining refresh-token validity below
// which an interactive session refuses to start and asks the user to
// log in again.
const refreshTokenMinValidity = 24 * time.Hour

// ValidRegions are the regions the control plane is deployed in.
var ValidRegions = []string{"us-east-1", "eu-north-1"}

var (
	// ErrMissingEnvironment indicates that the environment variables
	// required for non-interactive use are not all set.
	ErrMissingEnvironment = errors.New(
		"non-interactive mode requires that LOCUSTCLOUD_USERNAME, LOCUSTCLOUD_PASSWORD and LOCUSTCLOUD_REGION environment variables are set")
	// ErrUnsupportedRegion indicates a region outside ValidRegions.
	ErrUnsupportedRegion = errors.New("unsupported region")
	// ErrLoginRequired indicates that no sufficiently fresh stored
	// credentials exist and the user must run `locustctl login`.
	ErrLoginRequired = errors.New(
		"you need to authenticate before proceeding, please run:\n    locustctl login")
	// ErrAuthenticationFailed indicates the control plane rejected the
	// credentials. Never retried automatically.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// APIBaseURL returns the control-plane base URL for a region. The
// LOCUSTCLOUD_DEPLOYER_URL environment variable overrides it.
func APIBaseURL(region string) string {
	if override := os.Getenv("LOCUSTCLOUD_DEPLOYER_URL"); override != "" {
		return override
	}
	return fmt.Sprintf("https://api.%s.locust.cloud/1", region)
}

func validRegion(region string) bool {
	for _, valid := range ValidRegions {
		if region == valid {
			return true
		}
	}
	return false
}

// Credentials are the account credentials used for non-interactive
// password login.
type Credentials struct {
	Username string
	Password string
	Region   string
}

// CredentialsFromEnvironment reads non-interactive credentials from the
// process environment.
func CredentialsFromEnvironment() (Credentials, error) {
	creds := Credentials{
		Username: os.Getenv("LOCUSTCLOUD_USERNAME"),
		Password: os.Getenv("LOCUSTCLOUD_PASSWORD"),
		Region:   os.Getenv("LOCUSTCLOUD_REGION"),
	}
	if creds.Username == "" || creds.Password == "" || creds.Region == "" {
		return Credentials{}, errors.WithStack(ErrMissingEnvironment)
	}
	return creds, nil
}

// loginResponse is the body returned by POST /auth/login.
type loginResponse struct {
	IDToken      string `json:"cognito_client_id_token"`
	RefreshToken string `json:"refresh_token"`
	UserSubID    string `json:"user_sub_id"`
}

// ApiSession issues authenticated HTTP requests against a region-scoped
// control plane, transparently refreshing the access token before it
// expires. A mutex serialises requests so a single session can be
// shared between the main flow and background helpers; token state has
// a single writer at any time.
type ApiSession struct {
	mu sync.Mutex

	region   string
	apiURL   string
	loginURL string

	refreshToken string
	idToken      string
	expiry       time.Time
	subject      string

	nonInteractive bool
	store          *cloudconfig.Store

	httpClient *http.Client
	now        func() time.Time
}

// NewNonInteractiveSession performs an initial username/password login
// and returns a session for the given region.
func NewNonInteractiveSession(creds Credentials) (*ApiSession, error) {
	if !validRegion(creds.Region) {
		return nil, errors.Wrapf(ErrUnsupportedRegion,
			"LOCUSTCLOUD_REGION needs to be set to one of: %v", ValidRegions)
	}

	s := newSession(creds.Region)
	s.nonInteractive = true

	resp, err := s.login(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return nil, err
	}

	s.refreshToken = resp.RefreshToken
	if err := s.applyToken(resp.IDToken); err != nil {
		return nil, err
	}
	return s, nil
}

// NewInteractiveSession builds a session from credentials previously
// stored by `locustctl login`. The stored refresh token must have at
// least 24 hours of validity left.
func NewInteractiveSession(store *cloudconfig.Store) (*ApiSession, error) {
	config, err := store.Load()
	if err != nil {
		return nil, err
	}
	if time.Unix(config.RefreshTokenExpires, 0).Before(time.Now().Add(refreshTokenMinValidity)) {
		return nil, errors.WithStack(ErrLoginRequired)
	}
	if !validRegion(config.Region) {
		return nil, errors.Wrapf(ErrUnsupportedRegion, "stored region %q", config.Region)
	}

	s := newSession(config.Region)
	s.store = store
	s.refreshToken = config.RefreshToken
	if err := s.applyToken(config.IDToken); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(region string) *ApiSession {
	apiURL := APIBaseURL(region)
	return &ApiSession{
		region:     region,
		apiURL:     apiURL,
		loginURL:   apiURL + "/auth/login",
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// applyToken decodes the access token and records its subject and
// safety-margin-adjusted expiry. The signature is deliberately NOT
// verified: the server is the verifier, and the client only uses the
// payload to schedule refreshes and correlate the session, never for
// authorization decisions.
func (s *ApiSession) applyToken(idToken string) error {
	if idToken == "" {
		return errors.Wrap(ErrAuthenticationFailed, "no access token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return errors.Wrap(err, "failed to decode access token")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.New("access token carries no expiry")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return errors.Wrap(err, "access token carries no subject")
	}

	s.idToken = idToken
	s.expiry = exp.Time.Add(-TokenExpiryMargin)
	s.subject = sub
	return nil
}

// login POSTs a credential payload to the login endpoint.
func (s *ApiSession) login(payload map[string]string) (*loginResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req, err := http.NewRequest(http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Version", Version)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach login endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return nil, errors.Wrapf(ErrAuthenticationFailed, "%s", string(text))
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode login response")
	}
	return &decoded, nil
}

// ensureValidToken refreshes the access token if it is at or past its
// safety-margin-adjusted expiry. Must be called with s.mu held.
func (s *ApiSession) ensureValidToken() error {
	if s.now().Before(s.expiry) {
		return nil
	}

	log.Infof("Authenticating (%s, v%s)", s.region, Version)

	resp, err := s.login(map[string]string{
		"user_sub_id":   s.subject,
		"refresh_token": s.refreshToken,
	})
	if err != nil {
		return err
	}
	if err := s.applyToken(resp.IDToken); err != nil {
		return err
	}

	if !s.nonInteractive && s.store != nil {
		config, err := s.store.Load()
		if err == nil {
			config.IDToken = s.idToken
			err = s.store.Save(config)
		}
		if err != nil {
			log.WithError(err).Warn("Failed to persist refreshed token")
		}
	}
	return nil
}

// Do issues an authenticated request against the control plane. The
// path is relative to the region's API base URL. A non-nil payload is
// sent as JSON. The response is returned unmodified; status-code
// interpretation is left to the caller.
func (s *ApiSession) Do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureValidToken(); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+path, body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.idToken)
	req.Header.Set("X-Client-Version", Version)

	resp, err := s.httpClient.Do(req)
	return resp, errors.WithStack(err)
}

// Post issues an authenticated POST.
func (s *ApiSession) Post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	return s.Do(ctx, http.MethodPost, path, payload)
}

// Delete issues an authenticated DELETE.
func (s *ApiSession) Delete(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	return s.Do(ctx, http.MethodDelete, path, payload)
}

// APIURL returns the region-scoped control-plane base URL.
func (s *ApiSession) APIURL() string {
	return s.apiURL
}

// Region returns the region this session is scoped to.
func (s *ApiSession) Region() string {
	return s.region
}

// Subject returns the subject id decoded from the access token.
func (s *ApiSession) Subject() string {
	return s.subject
}

// NonInteractive reports whether the session was built from environment
// credentials rather than stored ones.
func (s *ApiSession) NonInteractive() bool {
	return s.nonInteractive
}
