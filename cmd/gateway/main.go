package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"Provenance/client"
	"Provenance/internal/account"
	"Provenance/internal/anchor"
	"Provenance/internal/config"
	"Provenance/internal/content"
	"Provenance/internal/gateway"
	"Provenance/internal/logger"
	"Provenance/internal/session"
	"Provenance/internal/signature"
	"Provenance/internal/storage"
	"Provenance/internal/trust"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	logger.Init(logger.ParseLevel(cfg.LogLevel))

	master, err := account.LoadOrGenerate(cfg.Gateway.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("load master key:\n%w", err)
	}

	sessionKey, err := account.LoadOrGenerate(cfg.Gateway.SessionKeyPath)
	if err != nil {
		return fmt.Errorf("load session key:\n%w", err)
	}

	program, err := config.ParseProgram(cfg.Gateway.Program)
	if err != nil {
		return fmt.Errorf("program address:\n%w", err)
	}

	db, err := storage.New(filepath.Join(cfg.Gateway.DataPath, "cas"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	formats := signature.DefaultFormats(cfg.Auth.DomainTag, cfg.Auth.ChainQualified)

	challenges := session.NewChallenges(session.ChallengeConfig{
		Application: cfg.Auth.Application,
		ChainID:     cfg.Auth.ChainID,
		TTL:         cfg.Auth.ChallengeTTL,
	}, formats)
	defer challenges.Close()

	pipeline := anchor.New(client.New(cfg.Gateway.NodeAddress), master, anchor.Config{
		Program: program,
		Timeout: cfg.Gateway.ConfirmTimeout,
		TxTTL:   cfg.Gateway.TxTTL,
	})

	if pipeline.Mock() {
		logger.Warn("no ledger program configured, anchoring runs in mock mode")
	}

	if cfg.Auth.AllowReducedAssurance {
		logger.Warn("reduced-assurance login enabled", "environment", cfg.Environment)
	}

	gw := gateway.New(cfg.Gateway.HTTPAddress, gateway.Services{
		Challenges: challenges,
		Issuer:     session.NewIssuer(sessionKey, cfg.Auth.SessionTTL),
		Policy: trust.New(trust.Config{
			Formats:               formats,
			StrictAddressMatch:    cfg.Auth.StrictAddressMatch,
			AllowReducedAssurance: cfg.Auth.AllowReducedAssurance,
		}),
		Content: content.New(db, cfg.Gateway.LocatorBase),
		Anchor:  pipeline,
	})

	logger.Info("starting provenance gateway",
		"master", master.Address.String(),
		"program", program.String(),
		"node", cfg.Gateway.NodeAddress,
		"http", cfg.Gateway.HTTPAddress,
		"formats", signature.FormatNames(formats),
	)

	if err := gw.Start(); err != nil {
		return fmt.Errorf("start gateway:\n%w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return gw.Stop()
}

// parseFlags loads the config file and applies command-line overrides.
func parseFlags(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("provenance-gateway", pflag.ContinueOnError)

	var (
		configPath string
		httpAddr   string
		nodeAddr   string
		program    string
		masterKey  string
		dataPath   string
		logLevel   string
		timeout    time.Duration
		reduced    bool
	)

	fs.StringVar(&configPath, "config", "", "config file path (default $"+config.EnvVar+")")
	fs.StringVar(&httpAddr, "http", "", "HTTP listen address")
	fs.StringVar(&nodeAddr, "node", "", "ledger node address")
	fs.StringVar(&program, "program", "", "ledger program address (empty runs in mock mode)")
	fs.StringVar(&masterKey, "master-key", "", "master account key path (generates new if missing)")
	fs.StringVar(&dataPath, "data", "", "content store directory")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.DurationVar(&timeout, "confirm-timeout", 0, "anchor confirmation timeout")
	fs.BoolVar(&reduced, "allow-reduced-assurance", false, "accept structurally valid but unverified signatures (ignored in production)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}

	if fs.Changed("http") {
		cfg.Gateway.HTTPAddress = httpAddr
	}
	if fs.Changed("node") {
		cfg.Gateway.NodeAddress = nodeAddr
	}
	if fs.Changed("program") {
		cfg.Gateway.Program = program
	}
	if fs.Changed("master-key") {
		cfg.Gateway.MasterKeyPath = masterKey
	}
	if fs.Changed("data") {
		cfg.Gateway.DataPath = dataPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if fs.Changed("confirm-timeout") {
		cfg.Gateway.ConfirmTimeout = timeout
	}
	if fs.Changed("allow-reduced-assurance") && cfg.Environment != config.Production {
		cfg.Auth.AllowReducedAssurance = reduced
	}

	if err := os.MkdirAll(cfg.Gateway.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir:\n%w", err)
	}

	return cfg, cfg.Validate()
}
