package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"epic-repos/analysis"
	"epic-repos/config"
	"epic-repos/jira"
	"epic-repos/logger"
	"epic-repos/report"
	"epic-repos/store"
)

func main() {
	var (
		configPath   string
		epic         string
		outputDir    string
		jsonFile     string
		sampleConfig bool
	)
	flag.StringVar(&configPath, "config", config.Path(), "Path to the YAML configuration file")
	flag.StringVar(&epic, "epic", "", "Epic key to analyze (overrides jira.epic)")
	flag.StringVar(&outputDir, "output", "", "Output directory (overrides output.dir)")
	flag.StringVar(&jsonFile, "json", "", "Also write the run as one JSON file (overrides output.json_file)")
	flag.BoolVar(&sampleConfig, "sample-config", false, "Write config.sample.yml and exit")
	flag.Parse()

	if sampleConfig {
		if err := config.CreateSampleConfig("config.sample.yml"); err != nil {
			log.Fatalf("Error creating sample config: %v", err)
		}
		fmt.Println("✅ Sample configuration file created: config.sample.yml")
		fmt.Println("\nEdit this file with your credentials and rename to config.yml")
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	applyFlags(&cfg, epic, outputDir, jsonFile)
	if err := cfg.ValidateRun(); err != nil {
		fmt.Println("❌ Configuration Error!")
		fmt.Printf("   %v\n", err)
		fmt.Println("\nProvide a config.yml (run with -sample-config to generate a template),")
		fmt.Println("set CONFIG_PATH, or set EPIC_REPOS_JIRA_* environment variables.")
		os.Exit(2)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("analysis failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}

// applyFlags lets non-empty command line values win over the config file.
func applyFlags(cfg *config.Config, epic, outputDir, jsonFile string) {
	if epic != "" {
		cfg.Jira.Epic = epic
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if jsonFile != "" {
		cfg.Output.JSONFile = jsonFile
	}
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	sink, err := report.NewYAMLWriter(cfg.Output.Dir)
	if err != nil {
		return err
	}

	client := jira.NewClient(cfg, lg)
	analyzer := analysis.NewAnalyzer(client, client,
		analysis.WithSink(sink),
		analysis.WithProgress(report.NewProgressBar(os.Stdout, cfg.Jira.Epic)),
		analysis.WithMalformedURLPolicy(cfg.Resolver.MalformedURLPolicy),
		analysis.WithLogger(lg),
	)

	fmt.Printf("🔄 Analyzing pull requests of issues in epic %s...\n", cfg.Jira.Epic)
	res, err := analyzer.Run(ctx, cfg.Jira.Epic)
	if err != nil {
		if errors.Is(err, analysis.ErrIssueFetch) {
			return fmt.Errorf("no output written: %w", err)
		}
		return err
	}

	var files []string
	for _, name := range res.OutputNames() {
		files = append(files, sink.Path(name))
	}
	if cfg.Output.JSONFile != "" {
		if err := report.ExportToJSON(report.NewJSONReport(res), cfg.Output.JSONFile); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
		files = append(files, cfg.Output.JSONFile)
	}
	report.PrintSummary(os.Stdout, res, files, 10)

	if cfg.Store.Path == "" {
		return nil
	}
	history, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer history.Close()

	id, err := history.Save(ctx, res)
	if err != nil {
		return err
	}
	lg.Info("run saved", zap.Int64("run_id", id), zap.String("store", cfg.Store.Path))
	fmt.Printf("✅ Run saved to history (id %d)\n", id)
	return nil
}
