package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/common/database"
	"github.com/phlaster/biokeeper-backend/common/logger"
	"github.com/phlaster/biokeeper-backend/internal/config"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	file := pflag.StringP("file", "f", "", "SQL file to run instead of the embedded schema")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "apply-migration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	sqlText := repository.Schema
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal("Failed to read migration file", zap.String("file", *file), zap.Error(err))
		}
		sqlText = string(data)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.Error(err))
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqlText); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
	log.Info("Migration completed",
		zap.String("database", cfg.Database.Database),
		zap.String("host", cfg.Database.Host),
	)
}
