// Package cloudconfig persists the long-lived credentials and region
// for a cloud account in a JSON file under the user's configuration
// directory. A single interactive user per machine is assumed; writes
// are last-writer-wins with no cross-process locking.
package cloudconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	appDirName     = "locustctl"
	configFileName = "config.json"
)

// CloudConfig holds the persisted credentials for a region-scoped
// account. The zero value represents "never authenticated".
type CloudConfig struct {
	IDToken             string `json:"id_token,omitempty"`
	RefreshToken        string `json:"refresh_token,omitempty"`
	RefreshTokenExpires int64  `json:"refresh_token_expires"`
	Region              string `json:"region,omitempty"`
	DeploymentHash      string `json:"deployment_hash,omitempty"`
}

// Store reads and writes a CloudConfig at a fixed location.
type Store struct {
	// Dir is the directory holding the config file. Empty means the
	// per-user default.
	Dir string
}

// DefaultStore returns a store rooted at the per-user configuration
// directory.
func DefaultStore() (*Store, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to locate user config directory")
	}
	return &Store{Dir: filepath.Join(base, appDirName)}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.Dir, configFileName)
}

// Load returns the persisted config, or a zero-value config if none has
// been saved yet. A missing file is not an error.
func (s *Store) Load() (CloudConfig, error) {
	var config CloudConfig
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, errors.Wrapf(err, "failed to read %s", s.path())
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return CloudConfig{}, errors.Wrapf(err, "failed to parse %s", s.path())
	}
	return config, nil
}

// Save writes the config, creating parent directories as needed.
func (s *Store) Save(config CloudConfig) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create %s", s.Dir)
	}
	data, err := json.Marshal(config)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(s.path(), data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path())
	}
	return nil
}
