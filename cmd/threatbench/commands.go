package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"threatbench/config"
	"threatbench/internal/env"
	"threatbench/internal/graph/investigation"
	"threatbench/internal/incident"
	inputredis "threatbench/internal/input/redis"
	"threatbench/internal/logdb"
	"threatbench/internal/logger"
	"threatbench/internal/metrics"
	"threatbench/internal/qagen"
	"threatbench/internal/rules"
	"threatbench/internal/runner"
	"threatbench/internal/sampler"
	"threatbench/internal/taskstore"
	"threatbench/internal/transform/sysmon"
	"threatbench/pkg/models"
)

var (
	synthCmd = &cobra.Command{
		Use:   "synth [sysmon.jsonl]",
		Short: "Turn Sysmon telemetry into an incident by tagging events with Sigma rules",
		Long:  "Reads newline-delimited Sysmon records from the given file, or drains telemetry.redis.key when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSynth,
	}
	loadLogsCmd = &cobra.Command{
		Use:   "load-logs [sysmon.jsonl]",
		Short: "Load Sysmon telemetry into the log database agents query",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLoadLogs,
	}
	buildGraphCmd = &cobra.Command{
		Use:   "build-graph [incident.json]",
		Short: "Build and prune the investigation graph of an incident and save it as GraphML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBuildGraph,
	}
	sampleCmd = &cobra.Command{
		Use:   "sample",
		Short: "Sample start/end alert paths from a GraphML graph",
		RunE:  runSample,
	}
	generateQACmd = &cobra.Command{
		Use:   "generate-qa",
		Short: "Ask the oracle to turn sampled paths into tasks",
		RunE:  runGenerateQA,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the oracle agent over every configured scenario",
		RunE:  runBenchmark,
	}

	synthOut    string
	loadSQLite  string
	graphPath   string
	pathsPath   string
	tasksOut    string
	runTasks    string
	runSQLite   string
	metricsAddr string
)

func init() {
	synthCmd.Flags().StringVarP(&synthOut, "out", "o", "output/incident.json", "incident output path")

	loadLogsCmd.Flags().StringVar(&loadSQLite, "sqlite", "", "SQLite database to load (default executor.sqlite.path)")

	buildGraphCmd.Flags().StringVarP(&graphPath, "out", "o", "", "GraphML output path (default graph.graphml_path)")

	sampleCmd.Flags().StringVar(&graphPath, "graph", "", "GraphML input path (default graph.graphml_path)")
	sampleCmd.Flags().StringVarP(&pathsPath, "out", "o", "", "paths output path (default sampler.output_path)")

	generateQACmd.Flags().StringVar(&graphPath, "graph", "", "GraphML input path (default graph.graphml_path)")
	generateQACmd.Flags().StringVar(&pathsPath, "paths", "", "sampled paths (default sampler.output_path)")
	generateQACmd.Flags().StringVarP(&tasksOut, "out", "o", "", "tasks output path (default qagen.output_path)")

	runCmd.Flags().StringVar(&runTasks, "tasks", "", "run a single scenario from this task file")
	runCmd.Flags().StringVar(&runSQLite, "sqlite", "", "log database for --tasks")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics.addr)")
}

func runSynth(cmd *cobra.Command, args []string) error {
	events, source, err := readEvents(cmd.Context(), args)
	if err != nil {
		return err
	}

	rc := cfg.ThreatBench.Rules
	var engine rules.Engine = rules.NoopEngine{}
	if strings.TrimSpace(rc.Path) == "" {
		logger.Warnf("rules.path is empty; no alerts will be synthesized")
	} else {
		sigmaEngine, stats, err := rules.NewSigmaEngine(rc.Path)
		if err != nil {
			return fmt.Errorf("load Sigma rules: %w", err)
		}
		logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
			stats.Loaded, stats.SkippedComplex, stats.SkippedDatasource, stats.SkippedInvalid, stats.TotalFiles)
		engine = sigmaEngine
	}

	id := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	inc, err := incident.Synthesize(cmd.Context(), events, engine, incident.SynthOptions{Cooldown: rc.Cooldown, IncidentID: id})
	if err != nil {
		return err
	}
	if err := writeJSONFile(synthOut, inc); err != nil {
		return err
	}
	fmt.Printf("synthesized events=%d alerts=%d output=%s\n", len(events), len(inc.Alerts), synthOut)
	return nil
}

func runLoadLogs(cmd *cobra.Command, args []string) error {
	events, _, err := readEvents(cmd.Context(), args)
	if err != nil {
		return err
	}

	ec := cfg.ThreatBench.Executor
	switch ec.Mode {
	case "sqlite":
		path := orDefault(loadSQLite, ec.SQLite.Path)
		if path == "" {
			return fmt.Errorf("no sqlite database; pass --sqlite or set executor.sqlite.path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		n, err := logdb.LoadSQLite(cmd.Context(), path, events)
		if err != nil {
			return err
		}
		fmt.Printf("loaded events=%d sqlite=%s table=%s\n", n, path, logdb.Table)
	case "clickhouse":
		ch, err := logdb.NewClickHouse(logdb.ClickHouseConfig{
			URL:      ec.ClickHouse.URL,
			Database: ec.ClickHouse.Database,
			Table:    ec.ClickHouse.Table,
			Username: ec.ClickHouse.Username,
			Password: ec.ClickHouse.Password,
			Timeout:  ec.ClickHouse.Timeout,
			Headers:  ec.ClickHouse.Headers,
		})
		if err != nil {
			return err
		}
		defer ch.Close()
		if err := ch.EnsureTable(); err != nil {
			return err
		}
		for start := 0; start < len(events); start += loadBatch {
			end := min(start+loadBatch, len(events))
			if err := ch.WriteEvents(events[start:end]); err != nil {
				return err
			}
		}
		fmt.Printf("loaded events=%d clickhouse=%s/%s.%s\n", len(events), ec.ClickHouse.URL, ec.ClickHouse.Database, ec.ClickHouse.Table)
	default:
		return fmt.Errorf("unknown executor mode: %s", ec.Mode)
	}
	return nil
}

func runBuildGraph(cmd *cobra.Command, args []string) error {
	src := cfg.ThreatBench.Graph.IncidentPath
	if len(args) == 1 {
		src = args[0]
	}
	if src == "" {
		return fmt.Errorf("no incident given; pass a path or set graph.incident_path")
	}
	out := orDefault(graphPath, cfg.ThreatBench.Graph.GraphMLPath)

	inc, err := incident.Load(src)
	if err != nil {
		return err
	}
	g, stats, err := incident.Build(inc)
	if err != nil {
		return err
	}
	if err := writeGraph(out, g); err != nil {
		return err
	}
	fmt.Printf("graph alerts=%d entities=%d edges=%d skipped_entities=%d pruned=%d output=%s\n",
		stats.Alerts, stats.Entities, stats.Edges, stats.SkippedEntities, stats.PrunedNodes, out)
	return nil
}

func runSample(cmd *cobra.Command, args []string) error {
	g, err := readGraph(orDefault(graphPath, cfg.ThreatBench.Graph.GraphMLPath))
	if err != nil {
		return err
	}
	sc := cfg.ThreatBench.Sampler
	kinds, err := parseKinds(sc.LowInfoKinds)
	if err != nil {
		return err
	}
	paths := sampler.New(g, sampler.Options{K: sc.StartEntities, M: sc.Target, LowInfoKinds: kinds, Seed: sc.Seed}).GeneratePaths()

	out := orDefault(pathsPath, sc.OutputPath)
	if err := taskstore.SavePaths(out, paths); err != nil {
		return err
	}
	fmt.Printf("sampled paths=%d output=%s\n", len(paths), out)
	return nil
}

func runGenerateQA(cmd *cobra.Command, args []string) error {
	g, err := readGraph(orDefault(graphPath, cfg.ThreatBench.Graph.GraphMLPath))
	if err != nil {
		return err
	}
	paths, err := taskstore.LoadPaths(orDefault(pathsPath, cfg.ThreatBench.Sampler.OutputPath))
	if err != nil {
		return err
	}
	o, err := newOracle(cfg.ThreatBench.Oracle)
	if err != nil {
		return err
	}

	qc := cfg.ThreatBench.QAGen
	gen := qagen.New(o, g, qagen.Config{MaxAttempts: qc.MaxAttempts, RetryDelay: qc.RetryDelay}, qc.Prompt)
	tasks, err := gen.Generate(cmd.Context(), paths)
	if err != nil {
		return err
	}

	out := orDefault(tasksOut, qc.OutputPath)
	if err := taskstore.Save(out, tasks); err != nil {
		return err
	}
	fmt.Printf("generated tasks=%d paths=%d output=%s\n", len(tasks), len(paths), out)
	return nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tb := cfg.ThreatBench
	scenarios := tb.Runner.Scenarios
	if runTasks != "" {
		scenarios = []config.ScenarioConfig{{Name: strings.TrimSuffix(filepath.Base(runTasks), filepath.Ext(runTasks)), TasksPath: runTasks, SQLite: runSQLite}}
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios; pass --tasks or set runner.scenarios")
	}

	if addr := orDefault(metricsAddr, tb.Metrics.Addr); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	o, err := newOracle(tb.Oracle)
	if err != nil {
		return err
	}
	sc := newScorer(o, tb.Scorer)
	sink, err := openSink(tb.Trajectory)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Errorf("Error closing trajectory sink: %v", err)
		}
	}()

	var closers []func() error
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Errorf("Error closing executor: %v", err)
			}
		}
	}()

	runs := make([]runner.Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		tasks, err := taskstore.Load(s.TasksPath)
		if err != nil {
			return err
		}
		exec, closeFn, err := openExecutor(tb.Executor, s.SQLite)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		closers = append(closers, closeFn)
		runs = append(runs, runner.Scenario{
			Name:     s.Name,
			Tasks:    tasks,
			Executor: exec,
			Scorer:   sc,
			Sink:     sink,
			Env: env.Config{
				MaxSteps: tb.Environment.MaxSteps,
				MaxRows:  tb.Environment.MaxRows,
				MaxChars: tb.Environment.MaxChars,
			},
			NewAgent: func() env.Agent { return runner.NewOracleAgent(o, "") },
		})
	}

	sums, err := runner.Run(ctx, runs, tb.Runner.Parallel)
	for _, s := range sums {
		if s.Scenario == "" {
			continue
		}
		fmt.Printf("scenario=%s episodes=%d mean_reward=%.3f solved=%d scoring_failures=%d truncated=%d agent_errors=%d\n",
			s.Scenario, s.Episodes, s.MeanReward, s.Solved, s.ScoringFailures, s.Truncated, s.AgentErrors)
	}
	return err
}

const loadBatch = 1000

// readEvents parses telemetry from the file in args, or drains the
// configured Redis list. It also returns a name for the source.
func readEvents(ctx context.Context, args []string) ([]*models.Event, string, error) {
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		events, err := sysmon.ParseStream(f)
		if err != nil {
			return nil, "", fmt.Errorf("parse telemetry: %w", err)
		}
		return events, args[0], nil
	}

	rc := cfg.ThreatBench.Telemetry.Redis
	consumer, err := inputredis.NewConsumer(inputredis.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, Key: rc.Key})
	if err != nil {
		return nil, "", err
	}
	defer consumer.Close()
	records, err := consumer.Drain(ctx, 0)
	if err != nil {
		return nil, "", err
	}
	logger.Infof("Drained %d records from redis list %s", len(records), rc.Key)
	return sysmon.ParseRecords(records), rc.Key, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func parseKinds(raw []string) ([]models.EntityKind, error) {
	out := make([]models.EntityKind, 0, len(raw))
	for _, r := range raw {
		k, ok := models.ParseKind(r)
		if !ok {
			return nil, fmt.Errorf("unknown entity kind %q in sampler.low_info_kinds", r)
		}
		out = append(out, k)
	}
	return out, nil
}

func readGraph(path string) (*investigation.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := investigation.ReadGraphML(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return g, nil
}

func writeGraph(path string, g *investigation.Graph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := g.WriteGraphML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSONFile(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
