// Package builtin provides the tools shipped with chorus: note, task, search,
// summarize, echo and the vector backed remember and recall.
package builtin

import (
	"context"
	"slices"
	"strings"

	"github.com/jllopis/chorus/pkg/tools"
	"github.com/jllopis/chorus/pkg/vector"
)

// Echo returns its argument unchanged.
func Echo() tools.Tool {
	return tools.Func{
		ToolName: "echo",
		Summary:  "repeat the argument",
		Fn: func(_ context.Context, input string, _ map[string]string) (string, error) {
			return input, nil
		},
	}
}

// Options selects and configures the built-in tools.
type Options struct {
	// DataDir holds notes and tasks.
	DataDir string
	// Enabled lists tool names to expose. Empty enables all.
	Enabled []string
	// Summarizer backs the summarize tool. Nil omits it.
	Summarizer *Summarizer
	// Memory backs remember and recall. Nil omits them.
	Memory *vector.Memory
}

// Tools builds the enabled built-in tools.
func Tools(opts Options) []tools.Tool {
	nb := NewNotebook(opts.DataDir)
	all := []tools.Tool{Echo(), nb.NoteTool(), nb.TaskTool(), nb.SearchTool()}
	if opts.Summarizer != nil {
		all = append(all, opts.Summarizer)
	}
	if opts.Memory != nil {
		all = append(all, RememberTool(opts.Memory), RecallTool(opts.Memory))
	}
	if len(opts.Enabled) == 0 {
		return all
	}
	return slices.DeleteFunc(all, func(t tools.Tool) bool {
		return !slices.ContainsFunc(opts.Enabled, func(name string) bool {
			return strings.EqualFold(name, t.Name())
		})
	})
}
