package main

import (
	"context"
	"io"

	"github.com/jllopis/chorus/pkg/config"
	"github.com/jllopis/chorus/pkg/runtime"
)

func (g *globalFlags) options() config.Options {
	overrides := append([]string(nil), g.Overrides...)
	if g.LogLevel != "" {
		overrides = append(overrides, "log.level="+g.LogLevel)
	}
	if g.LogFormat != "" {
		overrides = append(overrides, "log.format="+g.LogFormat)
	}
	return config.Options{Path: g.ConfigPath, Profile: g.Profile, Overrides: overrides}
}

func (g *globalFlags) load() (*config.Config, error) {
	return config.LoadWith(g.options())
}

func startRuntime(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*runtime.Runtime, error) {
	return runtime.New(ctx, cfg, runtime.WithLogOutput(logOutput), runtime.WithVersion(version))
}
