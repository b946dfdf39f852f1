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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aqi-watch/internal/app"
	"github.com/kjstillabower/aqi-watch/internal/config"
	httphandler "github.com/kjstillabower/aqi-watch/internal/http"
	"github.com/kjstillabower/aqi-watch/internal/lifecycle"
	"github.com/kjstillabower/aqi-watch/internal/observability"
	"github.com/kjstillabower/aqi-watch/internal/publish"
	"github.com/kjstillabower/aqi-watch/internal/refresh"
	"github.com/kjstillabower/aqi-watch/internal/report"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.LogLevel != "" {
		if leveled, err := observability.NewLoggerWithLevel(cfg.LogLevel); err == nil {
			logger = leveled
		}
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	var closers lifecycle.Closers

	stack, err := app.NewStack(cfg, nil, logger)
	if err != nil {
		logger.Fatal("measurement stack", zap.Error(err))
	}
	closers.Add("stack", func(ctx context.Context) error { return stack.Close(ctx, logger) })

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := report.OpenSQLStore(startCtx, cfg.ReportStoreDSN)
	startCancel()
	if err != nil {
		logger.Fatal("report store", zap.Error(err))
	}
	closers.AddFunc("report store", store.Close)

	var (
		readingsPublisher refresh.Publisher
		reportPublisher   report.Publisher
		notifier          report.Notifier
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp := publish.NewKafkaPublisher(publish.Config{
			Brokers:       cfg.KafkaBrokers,
			ReadingsTopic: cfg.KafkaReadingsTopic,
			ReportsTopic:  cfg.KafkaReportsTopic,
		}, nil)
		readingsPublisher, reportPublisher = kp, kp
		closers.AddFunc("kafka", kp.Close)
		logger.Info("kafka publishing enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	if cfg.ReportWebhookURL != "" {
		notifier = report.NewWebhookNotifier(cfg.ReportWebhookURL, cfg.ReportWebhookTimeout)
	}
	submitter := report.NewSubmitter(store, report.SubmitterOptions{
		Notifier:  notifier,
		Publisher: reportPublisher,
		Logger:    logger,
	})

	refresher := refresh.New(stack.Batch, cfg.Cities, refresh.Options{
		Schedule:  cfg.RefreshSchedule,
		Publisher: readingsPublisher,
		Logger:    logger,
	})

	observability.RegisterTrafficGauges(cfg.DegradedWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	} else {
		observability.SetTrackedCities(cfg.CityNames())
	}

	handler := httphandler.NewHandler(httphandler.Deps{
		Measurements: stack.Measurements,
		Snapshots:    refresher,
		Trends:       stack.Generator,
		Places:       stack.Places,
		Reports:      submitter,
		Cities:       cfg.Cities,
	}, &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedFallbackPct: cfg.DegradedFallbackPct,
		CachePing:           stack.CachePing,
		StorePing:           store.Ping,
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	if err := refresher.Start(context.Background()); err != nil {
		logger.Fatal("refresh scheduler", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.Int("cities", len(cfg.Cities)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := refresher.Stop(shutdownCtx); err != nil {
		logger.Warn("refresh stop", zap.Error(err))
	}
	_ = closers.Close(shutdownCtx, logger)
	logger.Info("shutdown complete")
}
