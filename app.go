package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/kwv/boundarymerge/boundary"
)

// App encapsulates the application state and dependencies
type App struct {
	Config  *boundary.Config
	Logger  *slog.Logger
	Metrics *boundary.Metrics

	opts AppOptions

	// LogOutput receives log records; stderr when nil.
	LogOutput io.Writer
	// Stdin is read when the input is "-".
	Stdin io.Reader
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		LogOutput: os.Stderr,
		Stdin:     os.Stdin,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// loadConfig resolves defaults, the YAML file, the environment and the
// command line, in increasing precedence.
func (a *App) loadConfig() error {
	cfg, err := boundary.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		return err
	}
	if a.opts.EnvFile != "" {
		cfg.ApplyEnv(a.opts.EnvFile)
	} else {
		cfg.ApplyEnv()
	}
	a.opts.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.Config = cfg
	w := a.LogOutput
	if w == nil {
		w = os.Stderr
	}
	a.Logger = boundary.NewLogger(cfg.Log, w)
	a.Metrics = boundary.NewMetrics()
	return nil
}

// newFetcher builds the geometry source and returns a func releasing its cache.
func (a *App) newFetcher(ctx context.Context) (*boundary.Fetcher, func(), error) {
	cfg := a.Config
	opts := []boundary.FetchOption{
		boundary.WithFetchDisabled(cfg.DisableFetch),
		boundary.WithTimeout(cfg.Fetch.Timeout),
		boundary.WithMaxRetries(cfg.Fetch.MaxRetries),
		boundary.WithMaxConcurrency(cfg.MaxConcurrency),
		boundary.WithPaging(cfg.Fetch.PageSize, cfg.Fetch.MaxPages),
		boundary.WithRateLimit(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst),
		boundary.WithLogger(a.Logger),
		boundary.WithMetrics(a.Metrics),
	}
	if cfg.DisableFetch {
		return boundary.NewFetcher(opts...), func() {}, nil
	}

	cache, err := boundary.OpenCache(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("opening geometry cache: %w", err)
	}
	a.Logger.Info("geometry cache ready", "backend", cfg.Cache.Backend)
	release := func() {
		if err := cache.Close(); err != nil {
			a.Logger.Warn("closing geometry cache failed", "error", err)
		}
	}
	return boundary.NewFetcher(append(opts, boundary.WithCache(cache))...), release, nil
}

// connectPublisher connects to MQTT when a broker is configured. A broker
// that cannot be reached only disables notifications.
func (a *App) connectPublisher() *boundary.Publisher {
	client, err := boundary.ConnectMQTT(a.Config.MQTT, a.Logger)
	if err != nil {
		a.Logger.Warn("MQTT unavailable, run notifications disabled", "error", err)
		return nil
	}
	if client == nil {
		return nil
	}
	return boundary.NewPublisherFromConfig(client, a.Config.MQTT)
}

func (a *App) openInput() (io.ReadCloser, error) {
	switch a.Config.Input {
	case "":
		return nil, fmt.Errorf("%w: no input file given (use --input)", boundary.ErrConfig)
	case "-":
		return io.NopCloser(a.Stdin), nil
	}
	f, err := os.Open(a.Config.Input)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// newPipeline prepares everything a run needs. The returned func releases it.
func (a *App) newPipeline(ctx context.Context) (*boundary.Pipeline, func(), error) {
	if err := a.loadConfig(); err != nil {
		return nil, nil, err
	}
	fetcher, release, err := a.newFetcher(ctx)
	if err != nil {
		return nil, nil, err
	}
	publisher := a.connectPublisher()
	p := boundary.NewPipeline(a.Config, fetcher,
		boundary.WithPipelineLogger(a.Logger),
		boundary.WithPipelineMetrics(a.Metrics),
		boundary.WithPublisher(publisher),
	)
	return p, func() {
		publisher.Disconnect()
		release()
	}, nil
}

// RunPipeline runs validation and deduplication and writes every output.
func (a *App) RunPipeline(ctx context.Context, out io.Writer) error {
	p, release, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer release()

	in, err := a.openInput()
	if err != nil {
		return err
	}
	defer in.Close()

	res, err := p.Run(ctx, in)
	if err != nil {
		return err
	}
	if err := res.WriteOutputs(a.Config.OutputDir); err != nil {
		return err
	}
	if err := a.Metrics.WriteTextfile(a.Config.MetricsTextfile); err != nil {
		a.Logger.Warn("metrics textfile not written", "error", err)
	}
	p.Publish(res)

	s := res.Stats
	fmt.Fprintf(out, "Run %s: %d unique layers, %d merged, %d near-duplicates for review, %d rejected\n",
		s.RunID, s.CatalogSize, s.MergedLayers, s.NearDuplicates, s.Rejected)
	fmt.Fprintf(out, "Outputs written to %s\n", a.Config.OutputDir)
	return nil
}

// RunValidate grades the input and writes the passing and rejected layers.
func (a *App) RunValidate(ctx context.Context, out io.Writer) error {
	p, release, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer release()

	in, err := a.openInput()
	if err != nil {
		return err
	}
	defer in.Close()

	res, err := p.Validate(ctx, in)
	if err != nil {
		return err
	}
	if err := res.WriteValidation(a.Config.OutputDir); err != nil {
		return err
	}
	if err := a.Metrics.WriteTextfile(a.Config.MetricsTextfile); err != nil {
		a.Logger.Warn("metrics textfile not written", "error", err)
	}

	fmt.Fprintf(out, "Validated %d layers: %d passing, %d rejected\n",
		len(res.Passing)+len(res.Rejected), len(res.Passing), len(res.Rejected))
	for _, t := range boundary.AllTiers {
		fmt.Fprintf(out, "  %-12s %d\n", t, res.Stats.TierCounts[t])
	}
	fmt.Fprintf(out, "Outputs written to %s\n", filepath.Join(a.Config.OutputDir, boundary.ValidatedFile))
	return nil
}

// PrintPriorities prints the authority priority and label of each URL.
func (a *App) PrintPriorities(out io.Writer, urls []string) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	table := boundary.AuthorityFromConfig(a.Config)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tLABEL\tURL")
	for _, u := range urls {
		p := table.PriorityOf(u)
		fmt.Fprintf(w, "%d\t%s\t%s\n", p, boundary.PriorityLabel(p), u)
	}
	return w.Flush()
}

// InitConfig writes the effective configuration to path.
func (a *App) InitConfig(out io.Writer, path string) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := boundary.SaveConfig(path, a.Config); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote configuration to %s\n", path)
	return nil
}
