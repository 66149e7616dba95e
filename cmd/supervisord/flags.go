package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	NATSURL         string
	GatewayAddr     string
	Language        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("SUPERVISOR_CONFIG", ""),
		"Path to settings file; empty loads from the broker KV bucket (env: SUPERVISOR_CONFIG)")

	flag.StringVar(&cfg.NATSURL, "nats",
		getEnv("SUPERVISOR_NATS_URL", "nats://127.0.0.1:4222"),
		"Broker URL for the datagram overlay (env: SUPERVISOR_NATS_URL)")

	flag.StringVar(&cfg.GatewayAddr, "gateway",
		getEnv("SUPERVISOR_GATEWAY_ADDR", "127.0.0.1:8060"),
		"Operations gateway bind address, empty to disable (env: SUPERVISOR_GATEWAY_ADDR)")

	flag.StringVar(&cfg.Language, "lang",
		getEnv("SUPERVISOR_LANG", "en"),
		"Operator string language: en, es (env: SUPERVISOR_LANG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SUPERVISOR_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SUPERVISOR_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SUPERVISOR_LOG_FORMAT", "text"),
		"Log format: json, text (env: SUPERVISOR_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		30*time.Second, "Graceful shutdown timeout")

	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Print usage and exit")

	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	switch cfg.Language {
	case "en", "es":
	default:
		return fmt.Errorf("invalid language %q", cfg.Language)
	}
	return nil
}

func printHelp() {
	fmt.Printf("%s - facility SCADA supervisor\n\n", appName)
	fmt.Println("Usage:")
	flag.PrintDefaults()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
