package common

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureCommandLineLogging sets up logrus for interactive CLI use:
// plain messages on stderr so relayed deployment output on stdout stays
// clean.
func ConfigureCommandLineLogging() {
	log.SetFormatter(&log.TextFormatter{
		ForceColors:      true,
		DisableTimestamp: true,
	})
	log.SetOutput(os.Stderr)
}

// SetLogLevel applies a user-supplied log level name.
func SetLogLevel(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}
