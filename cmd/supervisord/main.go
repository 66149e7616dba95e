// Package main implements the supervisor daemon: the central authority of
// the facility SCADA system. It owns sessions to every PLC, RTU, and
// coordination peer, runs facility-wide process control and auto-SCRAM
// safety, and serves the read-only operations gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/gateway"
	"github.com/chocotoneg/cc-mek-scada/metric"
	"github.com/chocotoneg/cc-mek-scada/natsclient"
	"github.com/chocotoneg/cc-mek-scada/pkg/retry"
	"github.com/chocotoneg/cc-mek-scada/supervisor"
	"github.com/chocotoneg/cc-mek-scada/translate"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// Build information constants
const (
	Version = "1.0.0"
	appName = "supervisord"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("supervisor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	translate.SetLanguage(translate.Language(cliCfg.Language))

	slog.Info("starting facility supervisor",
		"version", Version, "broker", cliCfg.NATSURL)

	// broker connection for the datagram overlay and the settings bucket
	metrics := metric.NewRegistry()
	client := natsclient.New(cliCfg.NATSURL, brokerOptions(metrics), logger)
	ctx := context.Background()
	if err := retry.Do(ctx, retry.Persistent(), client.Connect); err != nil {
		return err
	}
	defer client.Close(ctx)

	settings, err := loadSettings(ctx, cliCfg, client)
	if err != nil {
		slog.Error(translate.T("config.invalid"), "error", err)
		return err
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	tr := transport.NewNATS(client, metrics, logger)

	var cast supervisor.Broadcaster
	var gw *gateway.Gateway
	if cliCfg.GatewayAddr != "" {
		gw = gateway.New(cliCfg.GatewayAddr, metrics, logger)
		if err := gw.Start(); err != nil {
			return err
		}
		cast = gw
	}

	svc, err := supervisor.New(supervisor.Deps{
		Settings:    settings,
		Transport:   tr,
		Metrics:     metrics,
		Broadcaster: cast,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	waitForSignal()

	slog.Info("shutting down")
	if err := svc.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Warn("supervisor stop reported error", "error", err)
	}
	if gw != nil {
		_ = gw.Stop(5 * time.Second)
	}
	return nil
}

func brokerOptions(metrics *metric.Registry) natsclient.Options {
	opts := natsclient.DefaultOptions()
	opts.OnStatus = func(s natsclient.Status) {
		if s == natsclient.StatusConnected {
			metrics.Core.BrokerConnected.Set(1)
		} else {
			metrics.Core.BrokerConnected.Set(0)
		}
	}
	return opts
}

// loadSettings reads the settings from a file when -config is given,
// otherwise from the broker KV bucket shared with the configurator.
func loadSettings(ctx context.Context, cliCfg *CLIConfig, client *natsclient.Client) (*config.Settings, error) {
	if cliCfg.ConfigPath != "" {
		raw, err := os.ReadFile(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("settings file: %w", err)
		}
		return config.Parse(raw)
	}

	store, err := config.NewKVStore(ctx, client.JetStream())
	if err != nil {
		return nil, err
	}
	return store.Load(ctx)
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
