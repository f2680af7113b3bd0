package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpio-node/internal/adapter/discovery"
	"gpio-node/internal/infra/config"
	"gpio-node/internal/infra/logger"
	"gpio-node/internal/infra/tracer"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runNode(args)
	case "encrypt":
		err = runEncrypt(args, os.Stdout)
	case "discover":
		err = runDiscover(args, os.Stdout)
	case "help":
		showUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		showUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `gpio-node - HTTP-controlled GPIO node

USAGE:
    gpio-node [run] [--config PATH]
    gpio-node encrypt VALUE
    gpio-node discover [--service NAME]

COMMANDS:
    run        Boot the node: join WiFi or start the fallback AP, sync the
               clock, then serve the HTTP API (default)
    encrypt    Print VALUE encrypted for use as "enc:..." in the config;
               the passphrase is read from GPIONODE_CONFIG_KEY
    discover   List nodes advertising over mDNS (needs the mdns build tag)

CONFIGURATION:
    Config file: ./config.yaml (missing file means defaults)
    Environment: GPIONODE_* variables override the file`)
}

func runNode(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger, cfg.Node.Name)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, cfg.Node.Name)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	n, err := buildNode(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Close(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	return n.Run(ctx)
}

func runEncrypt(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: gpio-node encrypt VALUE")
	}
	passphrase := os.Getenv(config.EnvKeyVar)
	if passphrase == "" {
		return fmt.Errorf("%s is not set", config.EnvKeyVar)
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enc:%s\n", enc)
	return nil
}

func runDiscover(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	service := fs.String("service", discovery.DefaultService, "DNS-SD service type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !discovery.Enabled {
		return fmt.Errorf("built without mdns support")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	peers, err := discovery.New(logger.Discard()).Scan(ctx, *service)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(peers)
}
