package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"enrolhub.org/internal/config"
	"enrolhub.org/internal/enrolment"
	"enrolhub.org/internal/httpapi"
	"enrolhub.org/internal/obs"
	"enrolhub.org/internal/store/pg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	// Persistence: Postgres when a DSN is configured, in-memory otherwise
	// so a bare binary still serves the full API for local development.
	var (
		store enrolment.Store
		db    *pg.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = pg.Open(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		store = db
	} else {
		logger.Warn("no database DSN configured, using in-memory store")
		store = enrolment.NewInMemory()
	}

	svc, err := enrolment.NewService(store)
	if err != nil {
		logger.Fatal("build service", zap.Error(err))
	}

	probe := httpapi.ReadyProbe{}
	if db != nil {
		probe.DB = db.DB()
	}
	api := httpapi.New(svc, probe, cfg.Version)

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, cfg.MaxBodyBytes)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, int(cfg.RateLimitRPS))
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, healthSrv := httpapi.NewGRPCServer()
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	go func() {
		logger.Info("starting enrolhub-api",
			zap.String("version", cfg.Version),
			zap.String("http_addr", cfg.HTTPAddr),
			zap.String("grpc_addr", cfg.GRPCAddr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen http", zap.Error(err))
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("serve grpc", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	healthSrv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
