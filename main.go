package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/circuitsight/pcb-inspection-service/detections"
)

func main() {
	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	cfg := LoadConfig()

	detector, err := detections.NewDetector(detections.Config{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.LibraryPath,
		Device:      cfg.Device,
		PoolSize:    cfg.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatalw("failed to initialize detector", "error", err)
	}
	defer detector.Close()

	server := NewServer(cfg, detector, logger)

	srv := &http.Server{
		Handler:      server.Routes(),
		Addr:         cfg.ListenAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	logger.Infow("starting server", "addr", cfg.ListenAddr)
	logger.Fatal(srv.ListenAndServe())
}
