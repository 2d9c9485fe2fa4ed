package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"forensicgraph/config"
	"forensicgraph/internal/arv"
	inputredis "forensicgraph/internal/input/redis"
	"forensicgraph/internal/ledger"
	"forensicgraph/internal/logger"
	"forensicgraph/internal/markers"
	"forensicgraph/internal/metrics"
	"forensicgraph/internal/output/decisionclickhouse"
	"forensicgraph/internal/output/decisionhttp"
	"forensicgraph/internal/output/decisionjson"
	"forensicgraph/internal/output/rawjson"
	"forensicgraph/internal/pipeline"
	"forensicgraph/internal/traversal"
	"forensicgraph/internal/triage"
	"forensicgraph/internal/verify"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("forensicgraph.yml"); err == nil {
		return "forensicgraph.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "forensicgraph.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "forensicgraph.yml"
}

func applyDefaults(cfg *config.Config) {
	fg := &cfg.ForensicGraph

	if fg.Input.Redis.Addr == "" {
		fg.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if fg.Input.Redis.Key == "" {
		fg.Input.Redis.Key = "events:normalized"
	}
	if fg.Input.Redis.BlockTimeout == 0 {
		fg.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if fg.Pipeline.Workers <= 0 {
		fg.Pipeline.Workers = 4
	}
	if fg.Pipeline.BatchSize <= 0 {
		fg.Pipeline.BatchSize = 1000
	}

	if fg.Triage.EntropyCeiling <= 0 {
		fg.Triage.EntropyCeiling = triage.DefaultEntropyCeiling
	}
	if fg.Triage.EntropyFloor <= 0 {
		fg.Triage.EntropyFloor = triage.DefaultEntropyFloor
	}

	if fg.Kernel.PhiLimit <= 0 {
		fg.Kernel.PhiLimit = arv.DefaultPhiLimit
	}
	if fg.Kernel.Beta <= 0 {
		fg.Kernel.Beta = arv.DefaultBeta
	}
	if fg.Kernel.Tau <= 0 {
		fg.Kernel.Tau = arv.DefaultTau
	}
	if fg.Kernel.RateNorm == "" {
		fg.Kernel.RateNorm = arv.DefaultRateNorm
	}
	if fg.Kernel.ThrottleOKAtFinalGate == nil {
		throttleOK := true
		fg.Kernel.ThrottleOKAtFinalGate = &throttleOK
	}

	if fg.Traversal.TauBlastSeconds <= 0 {
		fg.Traversal.TauBlastSeconds = 300
	}
	if fg.Traversal.MaxCounterfactuals <= 0 {
		fg.Traversal.MaxCounterfactuals = 10
	}

	if fg.Verification.Permutations <= 0 {
		fg.Verification.Permutations = verify.DefaultPermutations
	}
	if fg.Verification.Bootstraps <= 0 {
		fg.Verification.Bootstraps = verify.DefaultBootstraps
	}
	if fg.Verification.Significance <= 0 {
		fg.Verification.Significance = verify.DefaultSignificance
	}
	if fg.Verification.Smoothing <= 0 {
		fg.Verification.Smoothing = verify.DefaultSmoothing
	}
	if fg.Verification.Workers <= 0 {
		fg.Verification.Workers = fg.Pipeline.Workers
	}

	if fg.Ledger.Path == "" {
		fg.Ledger.Path = "data/evidence_ledger.jsonl"
	}
	if fg.Output.Dir == "" {
		fg.Output.Dir = "data"
	}

	if fg.Decisions.Mode == "" {
		fg.Decisions.Mode = "file"
	}
	if fg.Decisions.File.Path == "" {
		fg.Decisions.File.Path = "output/decisions.jsonl"
	}
	if fg.Decisions.ClickHouse.Database == "" {
		fg.Decisions.ClickHouse.Database = "forensicgraph"
	}
	if fg.Decisions.ClickHouse.Table == "" {
		fg.Decisions.ClickHouse.Table = "triage_decisions"
	}
	if fg.Capture.Path == "" {
		fg.Capture.Path = "output/raw_capture.jsonl"
	}

	if fg.Metrics.Addr == "" {
		fg.Metrics.Addr = ":9109"
	}
	if fg.Logging.Level == "" {
		fg.Logging.Level = "info"
	}
}

func loadConfig(configArg string) *config.Config {
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !os.IsNotExist(err) || configArg != "" {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = &config.Config{}
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.ForensicGraph.Logging.Enabled, cfg.ForensicGraph.Logging.Level, cfg.ForensicGraph.Logging.File, cfg.ForensicGraph.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Infof("Config loaded from: %s", configPath)
	return cfg
}

func buildMarkers(cfg *config.Config) markers.Engine {
	fg := cfg.ForensicGraph
	vocab := markers.NewVocabulary(fg.Markers.Vocabulary)
	if strings.TrimSpace(fg.Markers.SigmaRulesPath) == "" {
		return vocab
	}

	sigmaEngine, stats, err := markers.NewSigmaEngine(fg.Markers.SigmaRulesPath)
	if err != nil {
		logger.Errorf("Failed to load Sigma rules from %s: %v", fg.Markers.SigmaRulesPath, err)
		log.Fatalf("Failed to load Sigma rules: %v", err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
		stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; marker escalation uses the vocabulary only")
	}
	return markers.Multi{vocab, sigmaEngine}
}

func buildRunner(cfg *config.Config, led *ledger.Ledger, outputDir string) *pipeline.Runner {
	fg := cfg.ForensicGraph
	opts := pipeline.Options{
		Triage: triage.Profile{
			EntropyCeiling: fg.Triage.EntropyCeiling,
			EntropyFloor:   fg.Triage.EntropyFloor,
		},
		ARV: arv.Options{
			PhiLimit: fg.Kernel.PhiLimit,
			Beta:     fg.Kernel.Beta,
			Tau:      fg.Kernel.Tau,
			RateNorm: fg.Kernel.RateNorm,
		},
		Traversal: traversal.Options{
			TauBlastSeconds:    fg.Traversal.TauBlastSeconds,
			MaxCounterfactuals: fg.Traversal.MaxCounterfactuals,
		},
		Verify: verify.Options{
			Permutations: fg.Verification.Permutations,
			Bootstraps:   fg.Verification.Bootstraps,
			Significance: fg.Verification.Significance,
			Smoothing:    fg.Verification.Smoothing,
			Workers:      fg.Verification.Workers,
		},
		OutputDir:             outputDir,
		ThrottleOKAtFinalGate: fg.Kernel.ThrottleOKAtFinalGate == nil || *fg.Kernel.ThrottleOKAtFinalGate,
	}

	tr := triage.New(opts.Triage, led, buildMarkers(cfg))
	return pipeline.NewRunner(tr, led, nil, nil, nil, opts)
}

func buildDecisionWriter(cfg *config.Config) pipeline.DecisionWriter {
	fg := cfg.ForensicGraph
	switch fg.Decisions.Mode {
	case "file":
		w, err := decisionjson.NewWriter(fg.Decisions.File.Path)
		if err != nil {
			log.Fatalf("Failed to create decision file writer: %v", err)
		}
		logger.Infof("Decision output mode: file (%s)", fg.Decisions.File.Path)
		return w
	case "http":
		w, err := decisionhttp.NewWriter(decisionhttp.Config{
			URL:     fg.Decisions.HTTP.URL,
			Timeout: fg.Decisions.HTTP.Timeout,
			Headers: fg.Decisions.HTTP.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create decision HTTP writer: %v", err)
		}
		logger.Infof("Decision output mode: http (%s)", fg.Decisions.HTTP.URL)
		return w
	case "clickhouse":
		w, err := decisionclickhouse.NewWriter(decisionclickhouse.Config{
			URL:      fg.Decisions.ClickHouse.URL,
			Database: fg.Decisions.ClickHouse.Database,
			Table:    fg.Decisions.ClickHouse.Table,
			Username: fg.Decisions.ClickHouse.Username,
			Password: fg.Decisions.ClickHouse.Password,
			Timeout:  fg.Decisions.ClickHouse.Timeout,
			Headers:  fg.Decisions.ClickHouse.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create decision ClickHouse writer: %v", err)
		}
		logger.Infof("Decision output mode: clickhouse (%s/%s.%s)",
			fg.Decisions.ClickHouse.URL, fg.Decisions.ClickHouse.Database, fg.Decisions.ClickHouse.Table)
		return w
	default:
		log.Fatalf("Unknown decision output mode: %s", fg.Decisions.Mode)
		return nil
	}
}

func runStream(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	cfg := loadConfig(configArg)
	fg := cfg.ForensicGraph

	logger.Infof("ForensicGraph starting")

	if fg.Metrics.Enabled {
		go func() {
			logger.Infof("Metrics endpoint on %s", fg.Metrics.Addr)
			if err := metrics.Serve(fg.Metrics.Addr); err != nil {
				logger.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	led, err := ledger.Open(fg.Ledger.Path)
	if err != nil {
		logger.Errorf("Failed to open evidence ledger: %v", err)
		log.Fatalf("Failed to open evidence ledger: %v", err)
	}
	defer led.Close()

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         fg.Input.Redis.Addr,
		Password:     fg.Input.Redis.Password,
		DB:           fg.Input.Redis.DB,
		Key:          fg.Input.Redis.Key,
		BlockTimeout: fg.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	var capture pipeline.CaptureWriter
	if fg.Capture.Enabled {
		w, err := rawjson.NewWriter(fg.Capture.Path)
		if err != nil {
			log.Fatalf("Failed to create capture writer: %v", err)
		}
		capture = w
		logger.Infof("Raw capture enabled: %s", fg.Capture.Path)
	}

	runner := buildRunner(cfg, led, fg.Output.Dir)
	stream := pipeline.NewStream(consumer, runner, buildDecisionWriter(cfg), capture, fg.Pipeline.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := stream.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Stream error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := stream.Close(); err != nil {
		logger.Errorf("Error closing stream: %v", err)
	}

	logger.Infof("ForensicGraph stopped")
}

func runBatch(args []string) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	input := fs.String("input", "", "Normalized events JSONL input path")
	outputDir := fs.String("output", "", "Artifact output directory (overrides config)")
	configArg := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "batch requires -input")
		return 2
	}

	cfg := loadConfig(*configArg)
	fg := cfg.ForensicGraph

	dir := fg.Output.Dir
	if strings.TrimSpace(*outputDir) != "" {
		dir = *outputDir
	}

	batch, err := loadEventsJSONL(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load events: %v\n", err)
		return 1
	}

	led, err := ledger.Open(fg.Ledger.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open evidence ledger: %v\n", err)
		return 1
	}
	defer led.Close()

	runner := buildRunner(cfg, led, dir)
	result, err := runner.Run(batch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return 1
	}

	if result.HaltedAt != "" {
		fmt.Printf("halted at gate=%s events=%d admitted=%d\n", result.HaltedAt, len(batch), result.AdmittedCount)
		return 1
	}
	fmt.Printf("events=%d admitted=%d campaigns=%d output=%s\n",
		len(batch), result.AdmittedCount, len(result.Campaigns), dir)
	for _, c := range result.Campaigns {
		fmt.Printf("campaign %d: alerts=%d claim=%s recommendation=%s report=%s\n",
			c.Index, c.AlertCount, c.ClaimLabel, c.Recommendation, c.ReportPath)
	}
	return 0
}

func runVerifyLedger(args []string) int {
	fs := flag.NewFlagSet("verify-ledger", flag.ContinueOnError)
	path := fs.String("ledger", "data/evidence_ledger.jsonl", "Evidence ledger JSONL path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	errs := ledger.VerifyFile(*path)
	if len(errs) == 0 {
		fmt.Printf("ledger %s: chain intact\n", *path)
		return 0
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "entry %d: %s\n", e.Index, e.Reason)
	}
	fmt.Fprintf(os.Stderr, "ledger %s: %d chain errors\n", *path, len(errs))
	return 1
}

func loadEventsJSONL(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var batch []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		batch = append(batch, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runStream(os.Args[2:])
			return
		case "batch":
			os.Exit(runBatch(os.Args[2:]))
		case "verify-ledger":
			os.Exit(runVerifyLedger(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runStream(os.Args[1:])
			return
		}
	}

	runStream(nil)
}
