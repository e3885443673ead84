package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/config"
	"github.com/lumenlab/redline/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("Could not load %s: %v. Using built-in defaults", cfgPath, err)
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	srv := server.New(cfg, logger)
	defer srv.Shutdown()

	logger.Info("starting workbench server",
		zap.String("port", cfg.Server.Port),
		zap.String("stream", cfg.Stream.BaseURL),
		zap.String("transport", cfg.Stream.Transport))
	if err := srv.Run(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
