package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"particlealign/pkg/alignment"
	"particlealign/pkg/config"
	"particlealign/pkg/dataset"
	"particlealign/pkg/logging"
	"particlealign/pkg/visualization"
)

func main() {
	// Parse command line arguments
	dbPath := flag.String("db", "localizations.db", "SQLite database holding the localization datasets")
	name := flag.String("dataset", "", "Name of the dataset to align")
	outName := flag.String("output", "", "Name to save the aligned dataset under (default: <dataset>_avg)")
	configPath := flag.String("config", "particlealign.yaml", "YAML configuration file")
	iterations := flag.Int("iterations", -1, "Number of rounds (overrides the config file)")
	oversampling := flag.Float64("oversampling", 0, "Rendered pixels per camera pixel (overrides the config file)")
	merge := flag.Bool("merge", false, "Merge all groups into a single particle when saving")
	infoPath := flag.String("info", "", "Also write the saved metadata to this YAML file")
	list := flag.Bool("list", false, "List the datasets in the database and exit")
	importPath := flag.String("import", "", "CSV localization table (x, y[, z], group) to store before aligning")
	importInfo := flag.String("import-info", "", "YAML metadata of the imported table (default: <table>.yaml when present)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *iterations >= 0 {
		cfg.Alignment.Iterations = *iterations
	}
	if *oversampling > 0 {
		cfg.Alignment.Oversampling = *oversampling
	}
	if *merge {
		cfg.Output.MergeGroups = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	var log *logging.Logger
	if cfg.Logging.Console {
		log = logging.NewConsole(level)
	} else {
		log = logging.New(os.Stderr, level)
	}

	store, err := dataset.Open(*dbPath)
	if err != nil {
		log.Error("main", err, map[string]interface{}{"db": *dbPath})
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *list {
		if err := listDatasets(ctx, store); err != nil {
			log.Error("main", err, nil)
			os.Exit(1)
		}
		return
	}

	if *importPath != "" {
		if *name == "" {
			*name = strings.TrimSuffix(filepath.Base(*importPath), filepath.Ext(*importPath))
		}
		if err := importTable(ctx, store, *name, *importPath, *importInfo); err != nil {
			log.Error("main", err, map[string]interface{}{"table": *importPath})
			os.Exit(1)
		}
	}

	// Validate inputs
	if *name == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *outName == "" {
		*outName = *name + "_avg"
	}

	if err := run(ctx, cfg, log, store, *name, *outName, *infoPath); err != nil {
		log.Error("main", err, map[string]interface{}{"dataset": *name})
		var we *alignment.WorkerError
		switch {
		case errors.As(err, &we):
			if len(we.Stack) > 0 {
				fmt.Fprintf(os.Stderr, "%s\n", we.Stack)
			}
			fmt.Fprintln(os.Stderr, "Processing aborted.")
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "Interrupted, partial result saved.")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logging.Logger, store *dataset.Store, name, outName, infoPath string) error {
	ds, err := store.Load(ctx, name)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := alignment.NewMetrics(reg)
	if err != nil {
		return err
	}
	if path := cfg.Output.MetricsFile; path != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				log.Warning("main", "metrics export failed", map[string]interface{}{"path": path, "error": err.Error()})
			}
		}()
	}

	params := alignment.Params{
		Oversampling: cfg.Alignment.Oversampling,
		Iterations:   cfg.Alignment.Iterations,
		PixelSize:    cfg.Alignment.PixelSize,
		Workers:      cfg.Alignment.Workers,
		PollInterval: cfg.Alignment.PollInterval,
		Metrics:      metrics,
	}
	session, err := alignment.Open(ds, params, log)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer session.Close()

	fmt.Printf("Aligning %d groups of %q in %s mode\n", session.Groups(), name, session.Mode())
	startTime := time.Now()
	runErr := session.Run(ctx, func(p alignment.Progress) {
		fmt.Printf("\rIteration %d/%d, %s pass, group %d/%d", p.Round, p.Rounds, p.Phase, p.Done, p.Groups)
		if p.RoundComplete {
			fmt.Println()
		}
	})
	fmt.Println()

	// Whatever was aligned before a failure is kept for inspection
	if err := save(ctx, cfg, session, store, outName, infoPath); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("Alignment finished in %.2f seconds, saved as %q\n", time.Since(startTime).Seconds(), outName)
	return nil
}

func save(ctx context.Context, cfg *config.Config, session *alignment.Session, store *dataset.Store, outName, infoPath string) error {
	aligned := session.Dataset()

	// The context may already be cancelled by an interrupt; saving still goes ahead
	id, err := store.Save(context.WithoutCancel(ctx), outName, aligned, dataset.SaveOptions{MergeGroups: cfg.Output.MergeGroups})
	if err != nil {
		return fmt.Errorf("save %s: %w", outName, err)
	}

	if infoPath != "" {
		saved, err := store.Load(context.WithoutCancel(ctx), outName)
		if err != nil {
			return err
		}
		if err := dataset.WriteInfo(infoPath, saved.Info); err != nil {
			return err
		}
	}

	if err := visualization.ExportAverages(aligned, session.Geometry(), cfg.Output.AverageImage, cfg.Output.GrayImage); err != nil {
		return err
	}

	if cfg.Output.Verbose {
		fmt.Printf("Saved %d localizations as %s (id %s)\n", len(aligned.Locs), outName, id)
	}
	return nil
}

func importTable(ctx context.Context, store *dataset.Store, name, tablePath, infoPath string) error {
	if infoPath == "" {
		sibling := strings.TrimSuffix(tablePath, filepath.Ext(tablePath)) + ".yaml"
		if _, err := os.Stat(sibling); err == nil {
			infoPath = sibling
		}
	}

	file, err := os.Open(tablePath)
	if err != nil {
		return fmt.Errorf("failed to open table: %w", err)
	}
	defer file.Close()

	id, err := store.Import(ctx, name, file, infoPath)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s as %q (id %s)\n", tablePath, name, id)
	return nil
}

func listDatasets(ctx context.Context, store *dataset.Store) error {
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		kind := "2D"
		if s.HasZ {
			kind = "3D"
		}
		fmt.Printf("%-30s %s %8d locs  %s\n", s.Name, kind, s.Points, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
