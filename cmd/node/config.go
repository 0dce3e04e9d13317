package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"Provenance/internal/config"
)

// parseFlags loads the config file and applies command-line overrides.
func parseFlags(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("provenance-node", pflag.ContinueOnError)

	var (
		configPath string
		dataPath   string
		httpAddr   string
		program    string
		keyPath    string
		logLevel   string
		interval   time.Duration
	)

	fs.StringVar(&configPath, "config", "", "config file path (default $"+config.EnvVar+")")
	fs.StringVar(&dataPath, "data", "", "data directory path")
	fs.StringVar(&httpAddr, "http", "", "HTTP API address")
	fs.StringVar(&program, "program", "", "ledger program address (default: node account address)")
	fs.StringVar(&keyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.DurationVar(&interval, "block-interval", 0, "commit interval, 0 commits every submission")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}

	if fs.Changed("data") {
		cfg.Node.DataPath = dataPath
	}
	if fs.Changed("http") {
		cfg.Node.HTTPAddress = httpAddr
	}
	if fs.Changed("program") {
		cfg.Node.Program = program
	}
	if fs.Changed("key") {
		cfg.Node.KeyPath = keyPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if fs.Changed("block-interval") {
		cfg.Node.BlockInterval = interval
	}

	if err := os.MkdirAll(cfg.Node.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir:\n%w", err)
	}

	return cfg, cfg.Validate()
}
