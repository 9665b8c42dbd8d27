package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/nanami/internal/conf"
	"github.com/lk2023060901/nanami/internal/data"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/s3/biz"
	"github.com/lk2023060901/nanami/internal/s3/service"
	"github.com/lk2023060901/nanami/internal/server"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("config loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize data layer
	d, cleanup, err := data.NewData(ctx, config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize use cases
	bucketUseCase := biz.NewBucketUseCase(d.Buckets, d.Objects, d.BucketCache(), log.Named("bucket"))
	objectUseCase := biz.NewObjectUseCase(
		bucketUseCase,
		d.Objects,
		d.Files,
		d.Registry,
		d.Events(),
		d.Pool,
		log.Named("object"),
	)

	s3Service := service.NewS3Service(bucketUseCase, objectUseCase, log.Named("s3"))
	httpServer := server.NewHTTPServer(config, log, server.Dependencies{
		S3:    s3Service,
		DB:    d.DB,
		Redis: d.Redis,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server...")
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
