// Command server runs the MoodSense HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/moodsense/internal/config"
	"github.com/Brownie44l1/moodsense/internal/handlers"
	"github.com/Brownie44l1/moodsense/internal/logging"
	"github.com/Brownie44l1/moodsense/internal/session"
	"github.com/Brownie44l1/moodsense/internal/tips"
	"github.com/Brownie44l1/moodsense/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:           "moodsense",
		Short:         "Upload a photo, get a simulated mood reading and coping tips",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, addr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moodsense.yaml", "path to the YAML config file (missing file uses defaults)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config")
	return cmd
}

func run(ctx context.Context, configPath, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	root := projectRoot()

	provider, closeProvider, err := newProvider(cfg, root)
	if err != nil {
		return fmt.Errorf("creating score provider: %w", err)
	}
	defer closeProvider()

	probe := newProbe(cfg, root)
	catalog := tips.New(cfg.Tips)

	registry, err := session.NewRegistry(cfg.Sessions.Max, func(id string) *workflow.Controller {
		return workflow.New(workflow.Config{
			Weights:              cfg.Analysis.Weights,
			AnalysisDelay:        cfg.Analysis.Delay,
			ProbeTimeout:         cfg.Model.ProbeTimeout,
			MaxImageBytes:        cfg.Upload.MaxBytes,
			MaxImagePixels:       cfg.Upload.MaxPixels,
			FailedUpload:         cfg.Upload.FailedPolicy,
			ClearResultOnFailure: cfg.Analysis.ClearResultOnFailure,
		}, workflow.Deps{
			Provider: provider,
			Probe:    probe,
			Tips:     catalog,
			Logger:   log.With("session", id),
		})
	}, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	handler := handlers.NewHandler(registry, handlers.Options{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Tips:           catalog,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "provider", cfg.Model.Provider, "probe", cfg.Model.Probe)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	printBanner(os.Stdout, cfg)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
