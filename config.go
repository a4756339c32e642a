package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/circuitsight/pcb-inspection-service/detections"
)

type Config struct {
	ListenAddr  string
	ModelPath   string
	LibraryPath string
	Device      string
	PoolSize    int

	// Defaults for the analysis service; per-request values override these,
	// mirroring the text inputs of the original UI.
	AnalysisBaseURL string
	AnalysisAPIKey  string
}

func LoadConfig() *Config {
	// A missing .env file is fine.
	_ = godotenv.Load()

	return &Config{
		ListenAddr:      envOr("PCB_LISTEN_ADDR", "127.0.0.1:8080"),
		ModelPath:       envOr("PCB_MODEL_PATH", "models/yolov12_pcb_640.onnx"),
		LibraryPath:     envOr("PCB_ONNX_LIB_PATH", detections.DefaultLibraryPath()),
		Device:          os.Getenv("PCB_DEVICE"),
		PoolSize:        envIntOr("PCB_POOL_SIZE", detections.MaxAcceleratorSessions),
		AnalysisBaseURL: os.Getenv("PCB_ANALYSIS_URL"),
		AnalysisAPIKey:  os.Getenv("PCB_ANALYSIS_API_KEY"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
