package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"Provenance/internal/logger"
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

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	logger.Info("starting provenance node",
		"program", node.chain.Program().String(),
		"account", node.account.Address.String(),
		"http", cfg.Node.HTTPAddress,
		"data", cfg.Node.DataPath,
		"block_interval", cfg.Node.BlockInterval,
	)

	return node.Run()
}
