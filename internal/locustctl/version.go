package locustctl

import (
	"fmt"

	"github.com/locust-cloud/locustctl/pkg/client"
)

// Version prints the client version to the app output.
func (a *App) Version() error {
	_, err := fmt.Fprintf(a.Out, "locustctl version %s\n", client.Version)
	return err
}
