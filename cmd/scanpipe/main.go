package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"scanpipe/internal/daemonctl"
	"scanpipe/internal/services"
)

// Exit codes: 2 means the request itself was wrong and retrying it
// unchanged will not help.
const (
	exitFailure    = 1
	exitBadRequest = 2
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var apiErr *daemonctl.APIError
	var svcErr *services.Error
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Kind == string(services.KindInvalidInput) {
			return exitBadRequest
		}
	case errors.As(err, &svcErr):
		if services.KindOf(err) == services.KindInvalidInput {
			return exitBadRequest
		}
	}
	return exitFailure
}
