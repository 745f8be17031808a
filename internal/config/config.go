package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	Addr          string
	Mode          string // "passive" or "attack"
	MockMode      bool
	DBPath        string
	CaptureDir    string
	ExclusionPath string
	Debug         bool
	HopIntervalMs int

	Policy Policy
}

// Load parses command line flags and environment variables to populate Config.
// Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{Policy: DefaultPolicy()}

	// Defaults and Environment Variables
	cfg.Addr = getEnv("SNUFFLE_ADDR", ":8080")
	cfg.Mode = getEnv("SNUFFLE_MODE", "passive")
	cfg.MockMode = getEnvBool("SNUFFLE_MOCK", false)
	cfg.DBPath = getEnv("SNUFFLE_DB", getDefaultDataPath("snuffle.db"))
	cfg.CaptureDir = getEnv("SNUFFLE_CAPTURES", getDefaultDataPath("handshakes"))
	cfg.ExclusionPath = getEnv("SNUFFLE_EXCLUDED", getDefaultDataPath("excluded.txt"))
	cfg.HopIntervalMs = getEnvInt("SNUFFLE_HOP_MS", 300)

	// Command Line Flags (Override Env)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Diagnostics HTTP server address")
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Engine mode: passive or attack")
	flag.BoolVar(&cfg.MockMode, "mock", cfg.MockMode, "Run against the simulated radio driver")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite capture catalog")
	flag.StringVar(&cfg.CaptureDir, "captures", cfg.CaptureDir, "Directory for capture files")
	flag.StringVar(&cfg.ExclusionPath, "excluded", cfg.ExclusionPath, "Path to the protected-networks list")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.IntVar(&cfg.HopIntervalMs, "hop", cfg.HopIntervalMs, "Base channel hop interval in milliseconds")

	flag.Parse()

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDataPath returns a path inside ~/.snuffle, creating the
// directory if needed.
func getDefaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return name
	}

	dir := filepath.Join(home, ".snuffle")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .snuffle directory, using current dir: %v", err)
		return name
	}
	return filepath.Join(dir, name)
}
