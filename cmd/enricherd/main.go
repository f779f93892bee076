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

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/doc-enricher/internal/app"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger, closeLog := common.SetupLogger(cfg.Log.File, common.ParseLogLevel(cfg.Log.Level))
	defer func() { _ = closeLog() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Health(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	exec, err := a.Executor()
	if err != nil {
		logger.Error("failed to create executor", "error", err)
		os.Exit(1)
	}
	// A stage without a template would fail every request; refuse to start.
	if err := exec.CheckTemplates(); err != nil {
		logger.Error("template check failed", "error", err)
		os.Exit(1)
	}

	api := server.New(server.Deps{
		Runner:   exec,
		Store:    a.Store,
		Ingestor: a.Ingestor,
		Runs:     a.Runs,
		Exporter: a.Exporter,
		Health:   a.Health,
	}, server.Config{
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		MaxRawTextBytes: cfg.Server.MaxRawTextBytes,
	}, logger)

	// Stage runs poll synchronously, so the write timeout must outlast the
	// poll budget.
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Pipeline.PollBudget() + cfg.LLM.Timeout*4,
	}
	go func() {
		logger.Info("doc-enricher http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		logger.Info("doc-enricher grpc health listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
		defer healthServer.Shutdown()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("stopped")
}
