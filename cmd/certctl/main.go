package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"certverify/internal/certificate"
	"certverify/internal/chain"
	"certverify/internal/config"
	"certverify/internal/logger"
	"certverify/internal/render"
	"certverify/internal/store"
	"certverify/internal/verify"
)

const cliName = "certctl"

var (
	cfg config.App
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "certctl operates the certificate verification service",
	Long:  "certctl reads and composes certificate QR codes locally, scans camera streams and mints admin tokens.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		var err error
		// Diagnostics go to stderr; stdout carries command output.
		if log, err = logger.New("prod", cfg.LogLevel); err != nil {
			return err
		}
		for _, w := range cfg.Warnings {
			log.Warn("config", zap.String("detail", w))
		}
		render.Init(render.Options{Scale: cfg.RenderScale, Concurrency: cfg.RenderConcurrency, MaxPages: cfg.RenderMaxPages, MaxPixels: cfg.RenderMaxPixels})
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(tokenCmd, extractCmd, composeCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newResolver connects to the document store and, when configured, the registry.
// The returned func releases both.
func newResolver(ctx context.Context) (*verify.Resolver, func(), error) {
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect to document store: %w", err)
	}
	release := func() { _ = db.Close() }

	opts := []verify.Option{verify.WithChainTimeout(cfg.ChainTimeout), verify.WithLogger(log)}
	if cfg.ChainEnabled() {
		client, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.ChainContract)
		if err != nil {
			log.Warn("registry client unavailable", zap.Error(err))
		} else {
			opts = append(opts, verify.WithChain(client))
			release = func() {
				client.Close()
				_ = db.Close()
			}
		}
	}
	return verify.NewResolver(certificate.NewRepository(db.Client), opts...), release, nil
}
