package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/chorus/pkg/config"
	"github.com/jllopis/chorus/pkg/orchestrator"
	"github.com/jllopis/chorus/pkg/persona"
)

func newPersonasCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the configured personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			return printPersonas(cmd.OutOrStdout(), cfg)
		},
	}
}

func printPersonas(w io.Writer, cfg *config.Config) error {
	ps, err := cfg.LoadPersonas()
	if err != nil {
		return err
	}
	reg, err := persona.NewRegistry(ps...)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTONE\tMODEL\tTOOLS")
	for _, p := range reg.All() {
		name := p.Name
		if p.ID() == strings.ToLower(cfg.Orchestrator.DefaultPersona) {
			name += " (default)"
		}
		tools := "all"
		if len(p.Tools) > 0 {
			tools = strings.Join(p.Tools, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, p.Tone, p.Model, tools)
	}
	return tw.Flush()
}

func newToolsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rt, err := startRuntime(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			return printTools(cmd.OutOrStdout(), rt.Orchestrator)
		},
	}
}

func printTools(w io.Writer, o *orchestrator.Orchestrator) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, name := range o.Tools().Names() {
		t, _ := o.Tools().Get(name)
		fmt.Fprintf(tw, "@%s\t%s\n", name, t.Description())
	}
	return tw.Flush()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the chorus version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
