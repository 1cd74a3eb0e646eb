// Copyright 2025 Certen Protocol
//
// Entrypoint for the chain connector daemon. Grounded on the teacher's
// main.go: flag parsing, config load, context-driven background
// services, signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/certen/chainconnector/pkg/config"
	"github.com/certen/chainconnector/pkg/connector"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "config.yaml", "Path to connector configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	plugin, err := connector.Load(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatalf("loading connector: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	cancel()
	plugin.Unload()
	log.Println("stopped")
}

func printHelp() {
	fmt.Println("chainconnectord")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  chainconnectord [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config=PATH   Path to connector configuration file (default: config.yaml)")
	fmt.Println("  --help          Show this help message")
}
