package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jllopis/chorus/pkg/tools"
	"github.com/jllopis/chorus/pkg/vector"
)

// RememberTool stores the argument in vector memory for the invoking persona.
func RememberTool(mem *vector.Memory) tools.Tool {
	return tools.Func{
		ToolName: "remember",
		Summary:  "store a fact for later recall",
		Fn: func(ctx context.Context, input string, _ map[string]string) (string, error) {
			text := strings.TrimSpace(input)
			if text == "" {
				return "", tools.Failure("remember", "nothing to remember")
			}
			if _, err := mem.Remember(ctx, tools.PersonaFrom(ctx), text); err != nil {
				return "", err
			}
			return "Remembered.", nil
		},
	}
}

// RecallTool finds stored facts similar to the argument. Params: limit (default
// 3), scope=all to search every persona.
func RecallTool(mem *vector.Memory) tools.Tool {
	return tools.Func{
		ToolName: "recall",
		Summary:  "recall stored facts (limit=, scope=all)",
		Fn: func(ctx context.Context, input string, params map[string]string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", tools.Failure("recall", "empty query")
			}
			limit := 3
			if raw := params["limit"]; raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 {
					return "", tools.Failure("recall", fmt.Sprintf("invalid limit %q", raw))
				}
				limit = n
			}
			persona := tools.PersonaFrom(ctx)
			if strings.EqualFold(params["scope"], "all") {
				persona = ""
			}

			matches, err := mem.Recall(ctx, persona, query, limit)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return fmt.Sprintf("Nothing recalled for '%s'", query), nil
			}
			var b strings.Builder
			for i, m := range matches {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%d. %s (%.2f)", i+1, m.Text, m.Score)
			}
			return b.String(), nil
		},
	}
}
