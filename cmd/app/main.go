package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "github.com/local/minutebook/internal/config"
	logpkg "github.com/local/minutebook/internal/logger"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	root := &cobra.Command{
		Use:           "minutebook",
		Short:         "Split a corporate minute book PDF into labeled sections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSplitCmd(&cfg), newStatusCmd(&cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
}

func initLogging(cfg cfgpkg.Config) error {
	opts := logpkg.Options{
		Service: "minutebook",
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		File: logpkg.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	}
	if cfg.Axiom.Send {
		opts.Axiom = logpkg.AxiomOptions{
			APIKey:     cfg.Axiom.APIKey,
			OrgID:      cfg.Axiom.OrgID,
			Dataset:    cfg.Axiom.Dataset,
			FlushEvery: cfg.Axiom.FlushInterval,
		}
	}
	return logpkg.Init(opts)
}
