package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/chorus/pkg/orchestrator"
)

func newChatCmd(g *globalFlags) *cobra.Command {
	var (
		message string
		persona string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the personas in the terminal",
		Long: `Start an interactive chat. Plain text goes to the active persona.

  @switch <persona>        change the active persona
  @<tool> [text] [k=v...]  run a tool and let the persona comment on its output
  exit                     leave the chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rt, err := startRuntime(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			s := rt.Orchestrator.NewSession()
			if persona != "" {
				s.CurrentPersona = strings.ToLower(persona)
			}
			if message != "" {
				render(cmd.OutOrStdout(), rt.Orchestrator.Process(cmd.Context(), message, s))
				return nil
			}
			return repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), rt.Orchestrator, s)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVarP(&persona, "persona", "p", "", "start on this persona")
	return cmd
}

// repl reads one input per line until EOF, exit or ctx cancellation.
func repl(ctx context.Context, in io.Reader, out io.Writer, o *orchestrator.Orchestrator, s *orchestrator.Session) error {
	fmt.Fprintf(out, "Chatting with %s. Type @switch <persona> to change, exit to quit.\n", s.CurrentPersona)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", s.CurrentPersona)
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		render(out, o.Process(ctx, line, s))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// render prints a chunk sequence: text streams inline, everything else on
// its own line.
func render(out io.Writer, chunks iter.Seq[orchestrator.Chunk]) {
	inline := false
	for c := range chunks {
		switch c.Kind {
		case orchestrator.KindText:
			fmt.Fprint(out, c.Text)
			inline = true
		case orchestrator.KindLabel:
			if inline {
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, c.Text)
			inline = true
		case orchestrator.KindTool:
			if inline {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Tool output: %s\n", c.Text)
			inline = false
		case orchestrator.KindError:
			if inline {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "! %s\n", c.Text)
			inline = false
		default:
			if inline {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, c.Text)
			inline = false
		}
	}
	if inline {
		fmt.Fprintln(out)
	}
}
