package locustctl

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/locust-cloud/locustctl/pkg/client"
	"github.com/locust-cloud/locustctl/pkg/client/auth"
	"github.com/locust-cloud/locustctl/pkg/client/cloudconfig"
)

// Login runs the browser-based authorization flow and stores the
// resulting credentials for later interactive sessions.
func (a *App) Login(ctx context.Context) error {
	region := a.Params.Region
	if region == "" {
		var err error
		if region, err = a.chooseRegion(); err != nil {
			return err
		}
	}

	store, err := a.configStore()
	if err != nil {
		return err
	}

	info, err := auth.Begin(ctx, region)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, `
Attempting to automatically open the SSO authorization page in your default browser.
If the browser does not open or you wish to use a different device to authorize this request, open the following URL:

%s

`, info.AuthenticationURL)
	if err := a.openURL(info.AuthenticationURL); err != nil {
		log.WithError(err).Debug("Failed to open browser")
	}

	result, err := auth.AwaitResult(ctx, info.ResultURL)
	if err != nil {
		return err
	}

	err = store.Save(cloudconfig.CloudConfig{
		IDToken:             result.IDToken,
		RefreshToken:        result.RefreshToken,
		RefreshTokenExpires: result.RefreshTokenExpires,
		Region:              region,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, "Authorization succeeded")
	return nil
}

// chooseRegion prompts the user to pick one of the supported regions.
func (a *App) chooseRegion() (string, error) {
	fmt.Fprintln(a.Out, "Enter the number for the region to authenticate against")
	fmt.Fprintln(a.Out)
	for i, region := range client.ValidRegions {
		fmt.Fprintf(a.Out, "  %d. %s\n", i+1, region)
	}
	fmt.Fprintln(a.Out)
	fmt.Fprint(a.Out, "> ")

	scanner := bufio.NewScanner(a.In)
	if !scanner.Scan() {
		return "", errors.New("no region chosen")
	}
	choice := scanner.Text()
	index, err := strconv.Atoi(choice)
	if err != nil || index < 1 || index > len(client.ValidRegions) {
		return "", errors.Errorf("not a valid choice: %q", choice)
	}
	return client.ValidRegions[index-1], nil
}
