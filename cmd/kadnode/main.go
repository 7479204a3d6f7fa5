// Command kadnode runs a standalone DHT node: it binds a UDP transport,
// opens in-memory storage, optionally joins an existing network through
// a bootstrap seed, and serves PING/STORE/FIND_NODE/FIND_VALUE requests
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadnode/kadnode/node"
	"github.com/kadnode/kadnode/routing"
	"github.com/kadnode/kadnode/storage"
	"github.com/sirupsen/logrus"
)

// cliConfig holds command-line configuration for the node executable.
type cliConfig struct {
	address string
	port    uint

	bootstrapAddress string
	bootstrapPort    uint

	k     int
	alpha int

	rpcTimeout    time.Duration
	lookupTimeout time.Duration

	logLevel string
}

func parseCLIFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.address, "address", "127.0.0.1", "Address to bind this node's transport to")
	flag.UintVar(&cfg.port, "port", 4222, "Port to bind this node's transport to")

	flag.StringVar(&cfg.bootstrapAddress, "bootstrap-address", "", "Address of an existing node to join through")
	flag.UintVar(&cfg.bootstrapPort, "bootstrap-port", 0, "Port of an existing node to join through")

	flag.IntVar(&cfg.k, "k", 20, "Bucket capacity / lookup breadth (K)")
	flag.IntVar(&cfg.alpha, "alpha", 3, "Lookup concurrency (ALPHA)")

	flag.DurationVar(&cfg.rpcTimeout, "rpc-timeout", node.DefaultRPCTimeout, "Per-request RPC timeout")
	flag.DurationVar(&cfg.lookupTimeout, "lookup-timeout", node.DefaultLookupTimeout, "Total deadline for one lookup")

	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()
	return cfg
}

func newLogger(level string) (*logrus.Logger, error) {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)
	return logger, nil
}

func run() error {
	cfg := parseCLIFlags()

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}

	n, err := node.New(node.Config{
		Address:       cfg.address,
		Port:          uint16(cfg.port),
		Storage:       storage.NewMemory(),
		Logger:        logger,
		K:             cfg.k,
		Alpha:         cfg.alpha,
		RPCTimeout:    cfg.rpcTimeout,
		LookupTimeout: cfg.lookupTimeout,
	})
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"function": "main.run",
		"node_id":  n.Self().NodeID.String(),
		"address":  cfg.address,
		"port":     cfg.port,
	}).Info("node starting")

	n.Start()
	defer n.Stop()

	if cfg.bootstrapAddress != "" {
		if err := joinBootstrap(n, cfg, logger); err != nil {
			logger.WithFields(logrus.Fields{
				"function": "main.run",
				"error":    err.Error(),
			}).Error("bootstrap join failed")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.WithFields(logrus.Fields{
		"function": "main.run",
	}).Info("node shutting down")
	return nil
}

func joinBootstrap(n *node.Node, cfg *cliConfig, logger *logrus.Logger) error {
	seed := routing.Contact{Address: cfg.bootstrapAddress, Port: uint16(cfg.bootstrapPort)}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.lookupTimeout)
	defer cancel()

	if err := n.Join(ctx, seed); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"function":          "main.joinBootstrap",
		"bootstrap_address": cfg.bootstrapAddress,
		"bootstrap_port":    cfg.bootstrapPort,
	}).Info("joined network")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
