package main

import (
	"context"

	"github.com/overmindtech/health-reporter/cmd"
	"github.com/overmindtech/health-reporter/tracing"
	_ "go.uber.org/automaxprocs"
)

func main() {
	defer tracing.LogRecoverToExit(context.Background(), "health-reporter.main")

	cmd.Execute()
}
