package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"scanpipe/internal/config"
	"scanpipe/internal/daemonctl"
	"scanpipe/internal/daemonrun"
	"scanpipe/internal/logging"
)

type commandContext struct {
	configFlag  *string
	localFlag   *bool
	verboseFlag *bool
	diagnostic  *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	openRuntime runtimeOpener
}

// runtimeOpener builds the in-process pipeline; tests swap it to inject
// stub stages.
type runtimeOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemonrun.Runtime, error)

func newCommandContext(configFlag *string, localFlag, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		localFlag:   localFlag,
		verboseFlag: verboseFlag,
		openRuntime: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemonrun.Runtime, error) {
			return daemonrun.Open(ctx, cfg, logger, daemonrun.RuntimeOptions{})
		},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) forceLocal() bool {
	return c.localFlag != nil && *c.localFlag
}

func (c *commandContext) verbose() bool {
	return c.verboseFlag != nil && *c.verboseFlag
}

func (c *commandContext) diagnosticMode() bool {
	return c.diagnostic != nil && *c.diagnostic
}

// withScans resolves the daemon client when it answers, otherwise an
// in-process runtime, and closes it after fn returns.
func (c *commandContext) withScans(cmd *cobra.Command, fn func(scanAPI) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	api, err := c.resolveScans(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer api.Close()
	return fn(api)
}

func (c *commandContext) resolveScans(ctx context.Context, cfg *config.Config) (scanAPI, error) {
	if !c.forceLocal() {
		client, err := daemonctl.NewClient(cfg)
		if err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_, statusErr := client.Status(probeCtx)
			cancel()
			switch {
			case statusErr == nil:
				return &daemonScans{client: client}, nil
			case !errors.Is(statusErr, daemonctl.ErrDaemonNotRunning):
				return nil, fmt.Errorf("connect to daemon at %s: %w", client.BaseURL(), statusErr)
			}
		}
	}
	logger, err := c.localLogger(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := c.openRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newLocalScans(rt), nil
}

// localLogger keeps in-process pipeline logs out of command output.
func (c *commandContext) localLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.NewFromConfig(cfg, c.verbose())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
