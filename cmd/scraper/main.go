// Package main wires together the land record scraper service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/api"
	"github.com/atlasland/landscraper/internal/auth"
	"github.com/atlasland/landscraper/internal/browser"
	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/config"
	"github.com/atlasland/landscraper/internal/logging"
	"github.com/atlasland/landscraper/internal/metrics"
	"github.com/atlasland/landscraper/internal/smsactivate"
	"github.com/atlasland/landscraper/internal/storage/postgres"
	"github.com/atlasland/landscraper/internal/strategy"
	"github.com/atlasland/landscraper/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:          cfg.DB.DSN,
		JobsTable:    cfg.DB.JobsTable,
		RecordsTable: cfg.DB.RecordsTable,
		MaxConns:     int32(cfg.DB.MaxConns),
		MinConns:     int32(cfg.DB.MinConns),
	})
	if err != nil {
		logger.Fatal("connect job store", zap.Error(err))
	}
	defer store.Close()

	engine := captcha.NewEngine(captcha.Config{
		OCREnabled:      cfg.Captcha.OCREnabled,
		TesseractBinary: cfg.Captcha.TesseractBinary,
		TwoCaptchaKey:   cfg.Captcha.TwoCaptchaKey,
		AntiCaptchaKey:  cfg.Captcha.AntiCaptchaKey,
		PollInterval:    time.Duration(cfg.Captcha.PollSeconds) * time.Second,
		MaxPollAttempts: cfg.Captcha.MaxPollAttempts,
		Timeout:         time.Duration(cfg.Captcha.TimeoutSeconds) * time.Second,
	}, logger.Named("captcha"))
	solutions := captcha.NewSolutionStore()

	// OTP login is only available when a virtual-number provider key is
	// configured; without one, Meebhoomi jobs run unauthenticated.
	var login *auth.Flow
	if cfg.SMS.APIKey != "" {
		smsClient, err := smsactivate.New(smsactivate.Config{
			APIKey:       cfg.SMS.APIKey,
			BaseURL:      cfg.SMS.BaseURL,
			Country:      cfg.SMS.Country,
			Service:      cfg.SMS.Service,
			PollInterval: time.Duration(cfg.SMS.PollSeconds) * time.Second,
		}, logger.Named("smsactivate"))
		if err != nil {
			logger.Fatal("init sms provider", zap.Error(err))
		}
		if balance, err := smsClient.GetBalance(ctx); err != nil {
			logger.Warn("sms provider balance check failed", zap.Error(err))
		} else {
			logger.Info("sms provider ready", zap.Float64("balance", balance))
		}
		login = auth.NewFlow(smsClient, auth.Selectors{
			PhoneInput:   cfg.Portals.PhoneInputSelectors,
			OTPButton:    cfg.Portals.OTPButtonSelectors,
			OTPInput:     cfg.Portals.OTPInputSelectors,
			VerifyButton: cfg.Portals.VerifyButtonSelectors,
		}, time.Duration(cfg.SMS.CodeTimeoutSeconds)*time.Second, logger.Named("auth"))
	}

	registry := strategy.NewRegistry(cfg.Portals, engine, login, logger.Named("strategy"))

	launcher := browser.NewLauncher(browser.Config{
		Proxy:        cfg.Browser.Proxy,
		UserAgent:    cfg.Browser.UserAgent,
		OpTimeout:    time.Duration(cfg.Browser.OpTimeoutSeconds) * time.Second,
		SettleDelay:  time.Duration(cfg.Browser.SettleDelayMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Browser.PollIntervalMs) * time.Millisecond,
	})

	w := worker.New(worker.Config{
		PollInterval: cfg.PollInterval(),
		BatchSize:    cfg.Worker.BatchSize,
	}, store, launcher, registry, solutions, logger.Named("worker"))

	apiServer := api.NewServer(store, solutions, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		w.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
