package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/config"
	"github.com/nerdneilsfield/dreamforge/internal/logger"
	"github.com/nerdneilsfield/dreamforge/internal/server"
)

func newServeCmd(version string, buildTime string) *cobra.Command {
	return &cobra.Command{
		Use:          "serve <config.toml>",
		Short:        "dreamforge serve",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args[0], version, buildTime)
		},
	}
}

func runServe(parent context.Context, configFile string, version string, buildTime string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if verbose {
		config.PrintConfig(cfg)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, cfg, version, buildTime)
}

// loadConfig reads .env, the TOML file and validates the result.
func loadConfig(configFile string) (*config.Config, error) {
	// 配置加载阶段还没有正式的日志器，先用一个临时的
	tempLogger, _ := zap.NewProduction()
	defer func() { _ = tempLogger.Sync() }()

	if err := config.LoadDotEnv(); err != nil {
		tempLogger.Warn("Failed to load .env", zap.Error(err))
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		tempLogger.Error("Config file does not exist", zap.String("path", configFile))
		return nil, fmt.Errorf("config file %s does not exist", configFile)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		tempLogger.Error("Failed to load config", zap.Error(err))
		return nil, err
	}

	if !logger.ValidLevel(cfg.LogConfig.Level) {
		tempLogger.Warn("Unknown log level, using info",
			zap.String("level", cfg.LogConfig.Level), zap.Strings("valid", logger.LevelNames()))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		tempLogger.Error("Config validation failed", zap.Error(err))
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
