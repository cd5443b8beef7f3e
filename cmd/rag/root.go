package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/app"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/config"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "rag",
	Short: "Ask questions about your documents",
	Long: `rag indexes documents into a vector store and answers questions from them,
citing the passages each answer is drawn from.

Without --config, ./config.yaml is used, then ~/.config/docquery/config.yaml
(written with defaults on first run). The default memory vector store does not
outlive the process; use badger, qdrant or pgvector to ingest and ask from
separate commands.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(cfgPath)
}

// openApp loads configuration and wires the pipeline.
func openApp(ctx context.Context) (*app.App, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Logging)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, fmt.Errorf("failed to start pipeline: %w", err)
	}
	return a, logger.Component(log, "cli"), nil
}
