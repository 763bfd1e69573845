package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"epic-repos/analysis"
	"epic-repos/config"
	"epic-repos/jira"
	"epic-repos/logger"
	"epic-repos/store"
	"epic-repos/web"
)

func main() {
	// Parse command line flags
	var configPath, port string
	flag.StringVar(&configPath, "config", config.Path(), "Path to the YAML configuration file")
	flag.StringVar(&port, "port", "", "Port to run the server on (overrides server.port)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if port == "" {
		port = cfg.Server.Port
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	var history web.History
	if cfg.Store.Path != "" {
		st, err := store.Open(context.Background(), cfg.Store.Path)
		if err != nil {
			lg.Fatal("opening run history failed", zap.Error(err))
		}
		defer st.Close()
		history = st
	}

	client := jira.NewClient(cfg, lg)
	newRunner := func() web.Runner {
		return analysis.NewAnalyzer(client, client,
			analysis.WithMalformedURLPolicy(cfg.Resolver.MalformedURLPolicy),
			analysis.WithLogger(lg),
		)
	}

	// Create and start the server
	server := web.NewServer(newRunner, history, lg)
	if err := server.Start(port); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}
