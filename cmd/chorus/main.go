// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command chorus chats with a roster of personas from the terminal or serves
// them over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Profile    string
	Overrides  []string
	LogLevel   string
	LogFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "chorus",
		Short:         "Multi-persona chat orchestration over local models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.ConfigPath, "config", "c", "", "path to the YAML config file")
	pf.StringVar(&g.Profile, "profile", "", "merge <config>.<profile>.yaml over the config file")
	pf.StringArrayVar(&g.Overrides, "set", nil, "override a config key (key=value, repeatable)")
	pf.StringVar(&g.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.LogFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newChatCmd(g),
		newServeCmd(g),
		newPersonasCmd(g),
		newToolsCmd(g),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
