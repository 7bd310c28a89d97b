package main

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// WorkerConfig tunes the asynq server; everything else comes from the
// container's application config.
type WorkerConfig struct {
	Concurrency   int
	HighWeight    int
	DefaultWeight int
	LowWeight     int
	HealthPort    string
}

func loadWorkerConfig() *WorkerConfig {
	cfg := &WorkerConfig{
		Concurrency:   envInt("WORKER_CONCURRENCY", 20),
		HighWeight:    envInt("WORKER_QUEUE_HIGH", 6),
		DefaultWeight: envInt("WORKER_QUEUE_DEFAULT", 3),
		LowWeight:     envInt("WORKER_QUEUE_LOW", 1),
		HealthPort:    envStr("WORKER_HEALTH_PORT", "8081"),
	}

	log.Info().
		Int("concurrency", cfg.Concurrency).
		Int("high", cfg.HighWeight).
		Int("default", cfg.DefaultWeight).
		Int("low", cfg.LowWeight).
		Msg("[Config] Worker tuning loaded")
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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
