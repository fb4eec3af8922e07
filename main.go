package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kwv/boundarymerge/boundary"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Runner is the application surface the CLI drives.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunPipeline(ctx context.Context, out io.Writer) error
	RunValidate(ctx context.Context, out io.Writer) error
	PrintPriorities(out io.Writer, urls []string) error
	InitConfig(out io.Writer, path string) error
}

// AppOptions carries the command line. Set records which flags were given
// explicitly, so only those override env and config file values.
type AppOptions struct {
	ConfigFile     string
	EnvFile        string
	Input          string
	OutputDir      string
	MaxConcurrency int
	NoFetch        bool
	Cache          string
	LogLevel       string
	LogFormat      string

	Set map[string]bool
}

// Apply overlays the explicitly set flags on cfg.
func (o AppOptions) Apply(cfg *boundary.Config) {
	if o.Set["input"] {
		cfg.Input = o.Input
	}
	if o.Set["output-dir"] {
		cfg.OutputDir = o.OutputDir
	}
	if o.Set["max-concurrency"] {
		cfg.MaxConcurrency = o.MaxConcurrency
	}
	if o.Set["no-fetch"] {
		cfg.DisableFetch = o.NoFetch
	}
	if o.Set["cache"] {
		cfg.Cache.Backend = o.Cache
	}
	if o.Set["log-level"] {
		cfg.Log.Level = o.LogLevel
	}
	if o.Set["log-format"] {
		cfg.Log.Format = o.LogFormat
	}
}

var overrideFlags = []string{
	"input", "output-dir", "max-concurrency", "no-fetch", "cache", "log-level", "log-format",
}

func newRootCmd(out io.Writer, app Runner) *cobra.Command {
	var opts AppOptions

	root := &cobra.Command{
		Use:   "boundarymerge",
		Short: "Validate and deduplicate discovered boundary layers",
		Long: `boundarymerge grades candidate GIS boundary layers for geometric quality,
detects the same boundaries published by several sources, and writes one
catalog entry per real boundary with a provenance record of every merge.`,
		Example: `  # Full run
  $ boundarymerge run --input layers.jsonl --output-dir out

  # Dry run trusting layer extents only
  $ boundarymerge run --input layers.jsonl --no-fetch

  # Show authority priorities
  $ boundarymerge priority https://gis.example.gov/arcgis/rest/services/x/0`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(out, "boundarymerge version: %s\n", Version)
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "Path to YAML configuration file")
	pf.StringVar(&opts.EnvFile, "env-file", ".env", "Path to .env file with environment overrides")
	pf.StringVar(&opts.Input, "input", "", "Input JSONL file of candidate layers (- for stdin)")
	pf.StringVar(&opts.OutputDir, "output-dir", "out", "Directory for output files")
	pf.IntVar(&opts.MaxConcurrency, "max-concurrency", 10, "Maximum concurrent geometry fetches")
	pf.BoolVar(&opts.NoFetch, "no-fetch", false, "Disable geometry fetching and compare extents only")
	pf.StringVar(&opts.Cache, "cache", boundary.CacheMemory, "Geometry cache backend: memory, sqlite or redis")
	pf.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.LogFormat, "log-format", "text", "Log format: text or json")

	// apply hands the parsed flags to the app before any subcommand runs.
	apply := func(cmd *cobra.Command) {
		opts.Set = make(map[string]bool)
		for _, name := range overrideFlags {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				opts.Set[name] = true
			}
		}
		app.ApplyOptions(opts)
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Validate, deduplicate and write the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply(cmd)
			return app.RunPipeline(cmd.Context(), out)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Grade geometry quality and write passing and rejected layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apply(cmd)
			return app.RunValidate(cmd.Context(), out)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "priority <url>...",
		Short: "Print the authority priority of each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apply(cmd)
			return app.PrintPriorities(out, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apply(cmd)
			return app.InitConfig(out, args[0])
		},
	})

	return root
}

func run(args []string, out io.Writer, app Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(out, app)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
