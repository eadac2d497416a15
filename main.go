// @title GeoSewa Mock Exam API
// @version 1.0
// @description Runs timed mock-exam attempts against the GeoSewa exam API.

// @host localhost:8090
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"log"

	"geosewa_exam/internal/app"
	"geosewa_exam/internal/config"
	"geosewa_exam/pkg/logger"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	application.Run()
}
