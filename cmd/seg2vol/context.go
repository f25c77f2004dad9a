package main

import (
	"log/slog"
	"strings"
	"sync"

	"seg2vol/internal/logging"
	"seg2vol/pkg/config"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Output.LogLevel = *c.logLevelFlag
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	if _, err := c.ensureConfig(); err != nil || c.logger == nil {
		return logging.Discard()
	}
	return c.logger
}
