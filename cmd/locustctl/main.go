package main

import (
	"os"

	"github.com/locust-cloud/locustctl/cmd/locustctl/cmd"
	"github.com/locust-cloud/locustctl/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
