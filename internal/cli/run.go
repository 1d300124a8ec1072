package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forPelevin/reelplan/internal/config"
	"github.com/forPelevin/reelplan/internal/logger"
	"github.com/forPelevin/reelplan/internal/pipeline"
)

// loadConfig applies file, then environment, then flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.Getenv)
	if v, _ := cmd.Flags().GetString("projects-dir"); v != "" {
		cfg.ProjectsDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setup(cmd *cobra.Command) (*pipeline.Pipeline, config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, nil, err
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	p := pipeline.New(cfg, pipeline.SystemEnv(), log)
	if err := p.Validate(); err != nil {
		return nil, cfg, nil, fmt.Errorf("config: %w", err)
	}
	return p, cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRoughCut(cmd *cobra.Command, projectID string) error {
	p, _, _, err := setup(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	req := pipeline.RoughCutRequest{ProjectID: projectID}
	req.SourcePath, _ = f.GetString("source")
	req.FPS, _ = f.GetInt("fps")
	req.Mode, _ = f.GetString("mode")
	req.FallbackPolicy, _ = f.GetString("fallback-policy")
	req.Language, _ = f.GetString("language")
	req.Model, _ = f.GetString("model")
	req.CutPlannerModel, _ = f.GetString("cut-planner-model")

	ctx, cancel := signalContext()
	defer cancel()
	return p.RoughCut(ctx, req, cmd.OutOrStdout())
}

func runEnrich(cmd *cobra.Command, projectID string) error {
	p, cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	req := pipeline.EnrichRequest{ProjectID: projectID, FetchExternal: cfg.Assets.FetchExternal}
	req.FPS, _ = f.GetInt("fps")
	req.TemplatePlannerModel, _ = f.GetString("template-planner-model")
	req.TemplatesDir, _ = f.GetString("templates-dir")
	req.MaxRetries, _ = f.GetInt("max-retries")
	if f.Changed("fetch-external") {
		req.FetchExternal, _ = f.GetBool("fetch-external")
	}

	ctx, cancel := signalContext()
	defer cancel()
	return p.Enrich(ctx, req, cmd.OutOrStdout())
}

// oneLine keeps failures to a single stderr line.
func oneLine(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
