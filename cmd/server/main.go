package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danieloj/poker-backend/internal/config"
	"github.com/danieloj/poker-backend/internal/httpapi"
	"github.com/danieloj/poker-backend/internal/hub"
	"github.com/danieloj/poker-backend/internal/session"
	"github.com/danieloj/poker-backend/internal/summary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gen summary.Generator = summary.Static{Text: summary.Fallback}
	if cfg.SummaryAPIKey != "" {
		gen = summary.NewClient(cfg.SummaryBaseURL, cfg.SummaryAPIKey, cfg.SummaryModel, cfg.SummaryTimeout)
	}

	h := hub.NewHub(ctx, session.Options{
		DisconnectGrace:  cfg.DisconnectGrace,
		AutoRevealDelay:  cfg.AutoRevealDelay,
		KnockoutRecovery: cfg.KnockoutRecovery,
		Summarizer:       gen,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
