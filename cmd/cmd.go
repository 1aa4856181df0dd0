// Package cmd provides CLI command implementations for graphdiff.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/graphdiff/internal/batching"
	"github.com/Benny93/graphdiff/internal/config"
	"github.com/Benny93/graphdiff/internal/ctxlog"
	"github.com/Benny93/graphdiff/internal/dataset"
	"github.com/Benny93/graphdiff/internal/evaluator"
	"github.com/Benny93/graphdiff/internal/metrics"
	"github.com/Benny93/graphdiff/internal/model"
	"github.com/Benny93/graphdiff/internal/runinfo"
	"github.com/Benny93/graphdiff/internal/storage"
	"github.com/Benny93/graphdiff/internal/train"
	"github.com/Benny93/graphdiff/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// RunFlags locate the checkpoint directory of a dataset.
type RunFlags struct {
	Dataset string `required:"" short:"d" help:"Dataset name (${datasets})"`
	Root    string `default:"." help:"Directory holding <dataset>_cpts"`
}

func (f RunFlags) kind() (dataset.Kind, error) {
	return dataset.ParseKind(f.Dataset)
}

func (f RunFlags) dir() string {
	return train.CheckpointDir(f.Root, f.Dataset)
}

// TrainCmd trains both streams of the denoiser on one dataset.
type TrainCmd struct {
	RunFlags `embed:""`

	Data        string `help:"Dataset file (default data/<dataset>.json)"`
	Config      string `short:"c" help:"Configuration file (default <config-dir>/<dataset>/train_Async.yaml)"`
	ConfigDir   string `default:"configs" help:"Directory of per-dataset configurations"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address, e.g. :9090"`
}

func (c *TrainCmd) dataPath() string {
	if c.Data != "" {
		return c.Data
	}
	return filepath.Join("data", c.Dataset+".json")
}

func (c *TrainCmd) configPath() string {
	if c.Config != "" {
		return c.Config
	}
	return config.Resolve(c.ConfigDir, c.Dataset)
}

// Run executes the train command.
func (c *TrainCmd) Run() error {
	kind, err := c.kind()
	if err != nil {
		return err
	}

	// Configuration errors abort before anything is written.
	cfg, err := config.Load(c.configPath())
	if err != nil {
		return err
	}

	ds, err := dataset.Load(c.dataPath())
	if err != nil {
		return err
	}
	if ds.Kind != kind {
		return fmt.Errorf("%s holds dataset %s, not %s", c.dataPath(), ds.Kind, kind)
	}
	feats := dataset.Preprocess(ds)

	dir, err := train.EnsureCheckpointDir(c.Root, c.Dataset)
	if err != nil {
		return err
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(filepath.Join(dir, "badger"), false); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	info := runinfo.New(c.Dataset, cfg.Diffusion.TX, cfg.Diffusion.TE, ".")
	if sum, err := dataset.FileSHA256(c.dataPath()); err == nil {
		info.DatasetSHA256 = sum
	}
	if info.Config, err = cfg.Flatten(); err != nil {
		return err
	}
	if err := info.WriteMeta(dir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-osSignalChannel():
			cancel()
		case <-ctx.Done():
		}
	}()

	log := slog.Default().With("run", info.ID)
	ctx = ctxlog.WithLogger(ctx, log)
	log.Info("run start", "project", info.Project, "name", info.Name, "commit", info.Commit)

	sink := metrics.Multi{metrics.SlogSink{Level: slog.LevelDebug}}
	if c.MetricsAddr != "" {
		prom := metrics.NewPrometheusSink()
		sink = append(sink, prom)
		stop := serveMetrics(ctx, c.MetricsAddr, prom.Handler())
		defer stop()
	}

	trainer, err := newTrainer(cfg, feats, store, sink)
	if err != nil {
		return err
	}

	color.Green("Training %s (%s)", info.Project, info.Name)
	fmt.Printf("  Nodes:          %d\n", ds.Graph.NumNodes())
	fmt.Printf("  Node pairs:     %d\n", feats.E.NumNodes()*(feats.E.NumNodes()-1)/2)
	fmt.Printf("  Checkpoints:    %s\n", dir)

	res, err := trainer.Run(ctx)
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}

	info.Epochs = res.Epochs
	info.EarlyStopped = res.EarlyStopped
	info.Best = make(map[string]runinfo.Best, len(res.Best))
	for s, b := range res.Best {
		info.Best[s.String()] = runinfo.Best{
			Epoch:        b.Epoch,
			NLL:          b.NLL,
			LogP0:        b.LogP0,
			DenoiseMatch: b.DenoiseMatch,
		}
	}
	info.Finish()
	if err := info.WriteMeta(dir); err != nil {
		return err
	}

	color.Green("\n✓ Training complete")
	fmt.Printf("  Epochs:         %d\n", res.Epochs)
	fmt.Printf("  Early stopped:  %v\n", res.EarlyStopped)
	for _, s := range model.Streams {
		if b, ok := res.Best[s]; ok {
			fmt.Printf("  Best %s:         epoch %d, NLL %.6f\n", s, b.Epoch, b.NLL)
		}
	}
	return nil
}

// newTrainer wires the reference denoiser, loaders and store into a
// trainer. The configured seed drives every shuffle.
func newTrainer(cfg *config.Config, feats *dataset.Features, store storage.CheckpointStore, sink metrics.Sink) (*train.Trainer, error) {
	index, err := batching.NewEdgeIndex(feats.E.NumNodes())
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Train.Seed))
	trainLoader, err := batching.NewTrainLoader(index, feats.E, cfg.Train.BatchSize, cfg.Train.NumWorkers, rng)
	if err != nil {
		return nil, err
	}
	valLoader, err := batching.NewValLoader(index, feats.E, cfg.Train.ValBatchSize)
	if err != nil {
		return nil, err
	}

	return train.New(train.Config{
		Model:    model.NewBaseline(feats),
		State:    model.NewState(feats),
		Train:    trainLoader,
		Val:      valLoader,
		Store:    store,
		Sink:     sink,
		Settings: train.SettingsFromConfig(cfg),
	})
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxlog.FromContext(ctx).Error("metrics server", "addr", addr, "err", err)
		}
	}()
	return func() { _ = srv.Shutdown(context.Background()) }
}

// StatsCmd prints structural statistics of a dataset.
type StatsCmd struct {
	Path    string `arg:"" help:"Dataset file"`
	Seed    int64  `default:"0" help:"Seed for split masks and subgraph sampling"`
	Compare string `help:"Generated graph file to compare against the dataset"`
	Watch   bool   `short:"w" help:"Recompute whenever the file changes"`
	JSON    bool   `help:"Print JSON instead of text"`
}

// Run executes the stats command.
func (c *StatsCmd) Run() error {
	if err := c.report(c.Path); err != nil {
		return err
	}
	if !c.Watch {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-osSignalChannel()
		fmt.Println("\nStopping watch mode...")
		cancel()
	}()

	fmt.Printf("\nWatching %s for changes (Ctrl+C to stop)\n", c.Path)
	err := dataset.Watch(ctx, c.Path, func(path string) error {
		fmt.Println()
		if err := c.report(path); err != nil {
			color.Red("✗ %v", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}
	return nil
}

func (c *StatsCmd) report(path string) error {
	if c.Compare != "" {
		return c.reportComparison(path)
	}

	summary, kind, err := computeStats(path, c.Seed)
	if err != nil {
		return err
	}

	if c.JSON {
		fmt.Println(toJSON(map[string]any{"dataset": kind.String(), "stats": summary}))
		return nil
	}

	color.Cyan("## %s", kind)
	fmt.Printf("  Nodes:          %d\n", summary.NumNodes)
	fmt.Printf("  Edges:          %d\n", summary.NumEdges)
	fmt.Printf("  Classes:        %d\n", summary.NumClasses)
	if summary.Sampled {
		fmt.Printf("  Triangles:      %.0f (on %d sampled edges)\n", summary.TriangleCount, summary.SampledEdges)
	} else {
		fmt.Printf("  Triangles:      %.0f\n", summary.TriangleCount)
	}
	fmt.Printf("  Communities:    %d (modularity %.4f)\n", summary.Communities, summary.Modularity)
	fmt.Printf("  Homophily:      %.4f\n", summary.Homophily)
	return nil
}

func (c *StatsCmd) reportComparison(path string) error {
	report, kind, err := computeComparison(path, c.Compare, c.Seed)
	if err != nil {
		return err
	}

	if c.JSON {
		fmt.Println(toJSON(map[string]any{"dataset": kind.String(), "comparison": report}))
		return nil
	}

	base, gen := report.Real, report.Generated
	color.Cyan("## %s vs %s", kind, c.Compare)
	fmt.Printf("  %-14s %12s %12s %12s\n", "", "real", "generated", "abs diff")
	fmt.Printf("  %-14s %12d %12d %12d\n", "Edges", base.NumEdges, gen.NumEdges, report.EdgeDiff)
	fmt.Printf("  %-14s %12.0f %12.0f %12.0f\n", "Triangles", base.TriangleCount, gen.TriangleCount, report.TriangleDiff)
	fmt.Printf("  %-14s %12.4f %12.4f %12.4f\n", "Modularity", base.Modularity, gen.Modularity, report.ModularityDiff)
	fmt.Printf("  %-14s %12.4f %12.4f %12.4f\n", "Homophily", base.Homophily, gen.Homophily, report.HomophilyDiff)
	return nil
}

func computeStats(path string, seed int64) (evaluator.Summary, dataset.Kind, error) {
	ev, err := evaluator.LoadFile(path, rand.New(rand.NewSource(seed)))
	if err != nil {
		return evaluator.Summary{}, 0, err
	}
	return ev.Real, ev.Kind, nil
}

func computeComparison(path, generated string, seed int64) (evaluator.Report, dataset.Kind, error) {
	ev, err := evaluator.LoadFile(path, rand.New(rand.NewSource(seed)))
	if err != nil {
		return evaluator.Report{}, 0, err
	}
	report, err := ev.CompareFile(generated)
	if err != nil {
		return evaluator.Report{}, 0, err
	}
	return report, ev.Kind, nil
}

// DatasetsCmd lists dataset files under a directory.
type DatasetsCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Directory to search"`
}

// Run executes the datasets command.
func (c *DatasetsCmd) Run() error {
	entries, err := dataset.Discover(c.Path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No dataset files found")
		return nil
	}

	fmt.Println("Datasets:")
	for _, e := range entries {
		fmt.Printf("\n  %s\n", e.RelPath)
		fmt.Printf("    Kind:   %s\n", e.Kind)
		fmt.Printf("    Nodes:  %d\n", e.NumNodes)
		fmt.Printf("    Edges:  %d\n", e.NumEdges)
		fmt.Printf("    SHA256: %s\n", e.SHA256)
	}
	return nil
}

// CheckpointsCmd lists the saved checkpoints of a dataset.
type CheckpointsCmd struct {
	RunFlags `embed:""`

	Stream string `short:"s" help:"Only list this stream (X or E)"`
}

// Run executes the checkpoints command.
func (c *CheckpointsCmd) Run() error {
	if _, err := c.kind(); err != nil {
		return err
	}
	streams := model.Streams
	if c.Stream != "" {
		s, err := model.ParseStream(c.Stream)
		if err != nil {
			return err
		}
		streams = []model.Stream{s}
	}

	store, err := loadStorage(c.dir())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for _, s := range streams {
		list, err := store.ListCheckpoints(ctx, s.String())
		if err != nil {
			return err
		}
		bestEpoch := -1
		if best, err := store.GetBest(ctx, s.String()); err == nil {
			bestEpoch = best.Epoch
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		color.Cyan("Stream %s (%d checkpoints)", s, len(list))
		for _, cp := range list {
			marker := " "
			if cp.Epoch == bestEpoch {
				marker = "*"
			}
			fmt.Printf(" %s epoch %4d  NLL %.6f  log p0 %.6f  match %.6f  %s\n",
				marker, cp.Epoch, cp.NLL, cp.LogP0, cp.DenoiseMatch, cp.SavedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// StatusCmd shows the latest run of a dataset.
type StatusCmd struct {
	RunFlags `embed:""`
}

// Run executes the status command.
func (c *StatusCmd) Run() error {
	if _, err := c.kind(); err != nil {
		return err
	}
	dir := c.dir()

	info, err := runinfo.ReadMeta(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no run found at %s. Run 'graphdiff train' first", dir)
		}
		return err
	}

	fmt.Printf("Run status for %s\n", dir)
	fmt.Printf("  ID:             %s\n", info.ID)
	fmt.Printf("  Project:        %s\n", info.Project)
	fmt.Printf("  Name:           %s\n", info.Name)
	if info.Commit != "" {
		fmt.Printf("  Commit:         %s\n", info.Commit)
	}
	fmt.Printf("  Started:        %s\n", info.StartedAt.Format("2006-01-02 15:04:05"))
	if info.FinishedAt == nil {
		fmt.Println("  Finished:       running or interrupted")
		return nil
	}
	fmt.Printf("  Finished:       %s\n", info.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Epochs:         %d\n", info.Epochs)
	fmt.Printf("  Early stopped:  %v\n", info.EarlyStopped)
	for _, s := range model.Streams {
		if b, ok := info.Best[s.String()]; ok {
			fmt.Printf("  Best %s:         epoch %d, NLL %.6f\n", s, b.Epoch, b.NLL)
		}
	}
	return nil
}

// CleanCmd deletes the checkpoint directory of a dataset.
type CleanCmd struct {
	RunFlags `embed:""`

	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run() error {
	if _, err := c.kind(); err != nil {
		return err
	}
	dir := c.dir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("no checkpoints found at %s. Nothing to clean", dir)
	}

	if !c.Force {
		fmt.Printf("Delete checkpoints at %s? [y/N] ", dir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting checkpoints: %w", err)
	}

	color.Green("Deleted %s", dir)
	return nil
}

// ServeCmd starts the MCP server over the checkpoints of a dataset.
type ServeCmd struct {
	RunFlags `embed:""`
}

// Run executes the serve command.
func (c *ServeCmd) Run() error {
	if _, err := c.kind(); err != nil {
		return err
	}
	store, err := loadStorage(c.dir())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-osSignalChannel():
			cancel()
		case <-ctx.Done():
		}
	}()

	// stdout carries JSON-RPC only.
	fmt.Fprintln(os.Stderr, "Starting MCP server...")
	err = mcp.NewServer(store, c.dir()).ServeStdio(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Helper functions

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func loadStorage(dir string) (*storage.BadgerBackend, error) {
	dbPath := filepath.Join(dir, "badger")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no checkpoints found at %s. Run 'graphdiff train' first", dir)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, true); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

func toJSON(v any) string {
	bytes, _ := json.Marshal(v)
	return string(bytes)
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`

	// Commands
	Train       TrainCmd       `cmd:"" help:"Train both denoiser streams on a dataset"`
	Stats       StatsCmd       `cmd:"" help:"Print graph statistics of a dataset file"`
	Datasets    DatasetsCmd    `cmd:"" help:"List dataset files under a directory"`
	Checkpoints CheckpointsCmd `cmd:"" help:"List saved checkpoints"`
	Status      StatusCmd      `cmd:"" help:"Show the latest run of a dataset"`
	Clean       CleanCmd       `cmd:"" help:"Delete the checkpoints of a dataset"`
	Serve       ServeCmd       `cmd:"" help:"Start MCP server (stdio transport)"`
	Setup       SetupCmd       `cmd:"" help:"Configure MCP for Claude Code / Cursor / Qwen"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("graphdiff"),
		kong.Description("Asynchronous dual-stream graph diffusion trainer"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":  Version,
			"datasets": strings.Join(dataset.Names(), ", "),
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.logLevel()})))
	return kongCtx.Run()
}

func (c *CLI) logLevel() slog.Level {
	switch {
	case c.Verbose:
		return slog.LevelDebug
	case c.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
