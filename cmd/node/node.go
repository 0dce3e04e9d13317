package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"Provenance/internal/account"
	"Provenance/internal/api"
	"Provenance/internal/chain"
	"Provenance/internal/config"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/storage"
)

// Node wires storage, ledger, chain and API together.
type Node struct {
	cfg     *config.Config
	account *account.Account
	storage *storage.Storage
	ledger  *ledger.Ledger
	chain   *chain.Chain
	api     *api.Server
	events  func()
}

// NewNode opens storage and builds every component.
func NewNode(cfg *config.Config) (*Node, error) {
	n := &Node{cfg: cfg}

	acct, err := account.LoadOrGenerate(cfg.Node.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load key:\n%w", err)
	}
	n.account = acct

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initChain(); err != nil {
		n.Close()
		return nil, err
	}

	n.api = api.New(cfg.Node.HTTPAddress, n.chain, n.chain, n.ledger)

	return n, nil
}

// initStorage opens the pebble database and the ledger on top of it.
func (n *Node) initStorage() error {
	db, err := storage.New(filepath.Join(n.cfg.Node.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	n.storage = db

	l, err := ledger.Open(db)
	if err != nil {
		return fmt.Errorf("open ledger:\n%w", err)
	}
	n.ledger = l

	return nil
}

// initChain starts the chain. Without a configured program the ledger
// program lives at the node account's address.
func (n *Node) initChain() error {
	program, err := config.ParseProgram(n.cfg.Node.Program)
	if err != nil {
		return fmt.Errorf("program address:\n%w", err)
	}

	if program.IsNull() {
		program = n.account.Address
	}

	c, err := chain.New(ledger.NewProgram(n.ledger), program,
		chain.WithStorage(n.storage),
		chain.WithBlockInterval(n.cfg.Node.BlockInterval),
	)
	if err != nil {
		return fmt.Errorf("create chain:\n%w", err)
	}
	n.chain = c

	return nil
}

// Run starts the API and blocks until shutdown signal.
func (n *Node) Run() error {
	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	n.logEvents()

	return n.waitForShutdown()
}

// logEvents writes committed ledger events to the log.
func (n *Node) logEvents() {
	ch, cancel := n.ledger.Subscribe()
	n.events = cancel

	go func() {
		for ev := range ch {
			logger.Info("ledger event", "kind", ev.Kind, "record", ev.ID, "seq", ev.Seq)
		}
	}()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close stops every component in reverse start order.
func (n *Node) Close() error {
	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			logger.Warn("api shutdown", "error", err)
		}
	}

	if n.events != nil {
		n.events()
	}

	if n.chain != nil {
		n.chain.Close()
	}

	if n.storage != nil {
		return n.storage.Close()
	}

	return nil
}
