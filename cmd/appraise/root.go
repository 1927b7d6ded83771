package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/config"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/llm"
	"github.com/ahrav/go-appraise/internal/observability"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "appraise",
		Short:         "Confidence-weighted NFT price consensus across LLM appraisers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"consensus config file (default: consensus_config.{json,yaml} in ./config or .)")

	cmd.AddCommand(
		newRunCmd(flags),
		newServeCmd(flags),
		newWorkerCmd(flags),
		newSubmitCmd(flags),
	)
	return cmd
}

// env bundles what every subcommand needs after loading config.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracing  *observability.TracerProvider
	registry *prometheus.Registry
}

func setup(ctx context.Context, flags *rootFlags, logOut io.Writer) (*env, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.LLM.Observability, logOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	slog.SetDefault(logger)

	tp, err := observability.NewTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	logger.Debug("configuration loaded", "source", cfg.Source, "models", len(cfg.Consensus.Models))
	return &env{cfg: cfg, logger: logger, tracing: tp, registry: reg}, nil
}

func (rt *env) service(ctx context.Context) (*appraisal.Service, *llm.Client, error) {
	return appraisal.Build(ctx, rt.cfg, appraisal.BuildOptions{
		Logger:     rt.logger,
		Registerer: rt.registry,
		Tracer:     rt.tracing.Tracer(),
	})
}

func (rt *env) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn("tracer shutdown failed", "error", err)
	}
}
