package main

import (
	"context"
	"database/sql"
	"log"

	aws_config "github.com/aws/aws-sdk-go-v2/config"
	rek "github.com/aws/aws-sdk-go-v2/service/rekognition"
	aws_s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/pixelvault/moderation-server/analysis/rekognition"
	"github.com/pixelvault/moderation-server/config"
	"github.com/pixelvault/moderation-server/job"
	jobmem "github.com/pixelvault/moderation-server/job/memory"
	jobpg "github.com/pixelvault/moderation-server/job/postgres"
	"github.com/pixelvault/moderation-server/results"
	storageaws "github.com/pixelvault/moderation-server/storage/aws"
	"github.com/pixelvault/moderation-server/virtual"
	virtualhttp "github.com/pixelvault/moderation-server/virtual/http"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	awsCfg, err := aws_config.LoadDefaultConfig(ctx, aws_config.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	s3Client := aws_s3.NewFromConfig(awsCfg, func(o *aws_s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = &cfg.AWSEndpoint
			o.UsePathStyle = true
		}
	})
	rekClient := rek.NewFromConfig(awsCfg, func(o *rek.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = &cfg.AWSEndpoint
		}
	})

	var jobStore job.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		jobStore = jobpg.NewInPostgres(db)
	} else {
		logger.Warn("DATABASE_URL not set; job records are in-memory only")
		jobStore = jobmem.NewInMemory()
	}

	storageStore := storageaws.NewStore(logger, s3Client)
	analysisClient := rekognition.NewClient(logger, rekClient)
	virtualStore := virtualhttp.NewClient(logger, cfg.VirtualStoreBaseURL)

	poller := job.NewPoller(logger, analysisClient, storageStore, cfg.StalenessThreshold)
	normalizer := results.NewNormalizer(logger)
	propagator := virtual.NewPropagator(logger, virtualStore, cfg.PropagationDelay)

	orch := job.NewOrchestrator(logger, jobStore, storageStore, analysisClient, poller, normalizer, propagator)
	server := job.NewServer(logger, orch)

	e := echo.New()
	e.HideBanner = true
	server.RegisterRoutes(e)

	logger.Info("Starting moderation server", zap.String("address", cfg.ListenAddress))
	if err := e.Start(cfg.ListenAddress); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}
