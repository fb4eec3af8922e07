package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kwv/boundarymerge/boundary"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	args   []string
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunPipeline(context.Context, io.Writer) error {
	m.called["RunPipeline"] = true
	return nil
}
func (m *mockApp) RunValidate(context.Context, io.Writer) error {
	m.called["RunValidate"] = true
	return nil
}
func (m *mockApp) PrintPriorities(_ io.Writer, urls []string) error {
	m.called["PrintPriorities"] = true
	m.args = urls
	return nil
}
func (m *mockApp) InitConfig(_ io.Writer, path string) error {
	m.called["InitConfig"] = true
	m.args = []string{path}
	return nil
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Run",
			args:           []string{"run", "--input", "layers.jsonl", "--output-dir", "/tmp/out"},
			expectedCalled: "RunPipeline",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Input != "layers.jsonl" {
					t.Errorf("expected Input layers.jsonl, got %s", opts.Input)
				}
				if opts.OutputDir != "/tmp/out" {
					t.Errorf("expected OutputDir /tmp/out, got %s", opts.OutputDir)
				}
				if !opts.Set["input"] || !opts.Set["output-dir"] {
					t.Errorf("expected input and output-dir marked set, got %v", opts.Set)
				}
				if opts.Set["max-concurrency"] {
					t.Error("max-concurrency was not given but is marked set")
				}
			},
		},
		{
			name:           "RunDryRun",
			args:           []string{"run", "--no-fetch", "--max-concurrency", "4", "--cache", "sqlite"},
			expectedCalled: "RunPipeline",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.NoFetch {
					t.Error("expected NoFetch true")
				}
				if opts.MaxConcurrency != 4 {
					t.Errorf("expected MaxConcurrency 4, got %d", opts.MaxConcurrency)
				}
				if opts.Cache != "sqlite" {
					t.Errorf("expected Cache sqlite, got %s", opts.Cache)
				}
			},
		},
		{
			name:           "FlagsBeforeCommand",
			args:           []string{"--config", "cfg.yaml", "--log-format", "json", "validate"},
			expectedCalled: "RunValidate",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "cfg.yaml" {
					t.Errorf("expected ConfigFile cfg.yaml, got %s", opts.ConfigFile)
				}
				if opts.LogFormat != "json" || !opts.Set["log-format"] {
					t.Errorf("expected LogFormat json marked set, got %s (%v)", opts.LogFormat, opts.Set)
				}
			},
		},
		{
			name:           "Priority",
			args:           []string{"priority", "https://a.gov/x", "https://b.org/y"},
			expectedCalled: "PrintPriorities",
		},
		{
			name:           "InitConfig",
			args:           []string{"init-config", "boundarymerge.yaml"},
			expectedCalled: "InitConfig",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_PriorityArgs(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"priority", "https://a.gov/x", "https://b.org/y"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(app.args) != 2 || app.args[1] != "https://b.org/y" {
		t.Errorf("unexpected urls: %v", app.args)
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	for _, args := range [][]string{
		{"priority"},
		{"init-config"},
		{"run", "extra"},
		{"unknown"},
	} {
		app := newMockApp()
		var out bytes.Buffer
		if err := run(args, &out, app); err == nil {
			t.Errorf("run(%v) expected error", args)
		}
		if len(app.called) != 0 {
			t.Errorf("run(%v) called %v", args, app.called)
		}
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--help"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"Usage:", "run", "validate", "priority"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected help to contain %q, got: %s", want, out.String())
		}
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "boundarymerge version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no command expected, got %v", app.called)
	}
}

func TestAppOptions_Apply(t *testing.T) {
	cfg := boundary.DefaultConfig()
	cfg.OutputDir = "from-yaml"
	cfg.MaxConcurrency = 3

	opts := AppOptions{
		OutputDir:      "flag-out",
		MaxConcurrency: 8,
		NoFetch:        true,
		Cache:          "redis",
		Set:            map[string]bool{"no-fetch": true, "cache": true},
	}
	opts.Apply(cfg)

	if cfg.OutputDir != "from-yaml" {
		t.Errorf("unset flag overrode OutputDir: %s", cfg.OutputDir)
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("unset flag overrode MaxConcurrency: %d", cfg.MaxConcurrency)
	}
	if !cfg.DisableFetch {
		t.Error("expected DisableFetch from flag")
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("expected cache backend redis, got %s", cfg.Cache.Backend)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
