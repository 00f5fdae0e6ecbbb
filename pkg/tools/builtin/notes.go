package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/chorus/pkg/tools"
)

type note struct {
	Content   string    `json:"content"`
	Priority  string    `json:"priority"`
	Tags      []string  `json:"tags,omitempty"`
	Persona   string    `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type task struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Done        bool      `json:"done"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notebook holds the note and task files shared by the note, task and
// search tools.
type Notebook struct {
	notes *jsonlFile[note]
	tasks *jsonlFile[task]
	now   func() time.Time
}

// NewNotebook stores notes.jsonl and tasks.jsonl under dir.
func NewNotebook(dir string) *Notebook {
	return &Notebook{
		notes: newJSONLFile[note](dir, "notes.jsonl"),
		tasks: newJSONLFile[task](dir, "tasks.jsonl"),
		now:   time.Now,
	}
}

func priority(params map[string]string) string {
	if p := strings.ToLower(strings.TrimSpace(params["priority"])); p != "" {
		return p
	}
	return "medium"
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// NoteTool saves the argument as a note. Params: priority, tags (comma list).
func (n *Notebook) NoteTool() tools.Tool {
	return tools.Func{
		ToolName: "note",
		Summary:  "save a note (priority=, tags=a,b)",
		Fn: func(ctx context.Context, input string, params map[string]string) (string, error) {
			content := strings.TrimSpace(input)
			if content == "" {
				return "", tools.Failure("note", "empty note")
			}
			rec := note{
				Content:   content,
				Priority:  priority(params),
				Tags:      splitTags(params["tags"]),
				Persona:   tools.PersonaFrom(ctx),
				CreatedAt: n.now(),
			}
			if err := n.notes.append(rec); err != nil {
				return "", err
			}
			return "Note saved.", nil
		},
	}
}

// TaskTool manages a task list. Params: action=add|list|done, priority.
func (n *Notebook) TaskTool() tools.Tool {
	return tools.Func{
		ToolName: "task",
		Summary:  "manage tasks (action=add|list|done, priority=)",
		Fn: func(_ context.Context, input string, params map[string]string) (string, error) {
			action := strings.ToLower(strings.TrimSpace(params["action"]))
			switch action {
			case "", "add":
				return n.addTask(strings.TrimSpace(input), priority(params))
			case "list":
				return n.listTasks()
			case "done":
				return n.completeTask(strings.TrimSpace(input))
			default:
				return "", tools.Failure("task", fmt.Sprintf("unknown action %q", action))
			}
		},
	}
}

func (n *Notebook) addTask(desc, prio string) (string, error) {
	if desc == "" {
		return "", tools.Failure("task", "empty task description")
	}
	var id int
	err := n.tasks.update(func(all []task) ([]task, error) {
		for _, t := range all {
			id = max(id, t.ID)
		}
		id++
		return append(all, task{ID: id, Description: desc, Priority: prio, CreatedAt: n.now()}), nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d added.", id), nil
}

func (n *Notebook) listTasks() (string, error) {
	all, err := n.tasks.readAll()
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "No tasks.", nil
	}
	var b strings.Builder
	for _, t := range all {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s (Priority: %s)\n", t.ID, mark, t.Description, t.Priority)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// completeTask marks the task whose id or description matches ref.
func (n *Notebook) completeTask(ref string) (string, error) {
	if ref == "" {
		return "", tools.Failure("task", "which task? give its number or description")
	}
	var id int
	err := n.tasks.update(func(all []task) ([]task, error) {
		for i := range all {
			if strconv.Itoa(all[i].ID) == ref || strings.EqualFold(all[i].Description, ref) {
				all[i].Done = true
				id = all[i].ID
				return all, nil
			}
		}
		return nil, tools.Failure("task", fmt.Sprintf("no task matching %q", ref))
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task %d done.", id), nil
}

// SearchTool searches notes and tasks by keyword. Param tag= also matches
// notes carrying that tag.
func (n *Notebook) SearchTool() tools.Tool {
	return tools.Func{
		ToolName: "search",
		Summary:  "search notes and tasks (tag=)",
		Fn: func(_ context.Context, input string, params map[string]string) (string, error) {
			query := strings.ToLower(strings.TrimSpace(input))
			tag := strings.ToLower(strings.TrimSpace(params["tag"]))
			if query == "" && tag == "" {
				return "", tools.Failure("search", "empty query")
			}

			notes, err := n.notes.readAll()
			if err != nil {
				return "", err
			}
			tasks, err := n.tasks.readAll()
			if err != nil {
				return "", err
			}

			var results []string
			for _, nt := range notes {
				if (query != "" && strings.Contains(strings.ToLower(nt.Content), query)) || hasTag(nt.Tags, tag) {
					results = append(results, fmt.Sprintf("Note: %s (Priority: %s, Tags: [%s])",
						nt.Content, nt.Priority, strings.Join(nt.Tags, ", ")))
				}
			}
			for _, t := range tasks {
				if query != "" && strings.Contains(strings.ToLower(t.Description), query) {
					results = append(results, fmt.Sprintf("Task: %s (Priority: %s)", t.Description, t.Priority))
				}
			}

			if len(results) == 0 {
				msg := fmt.Sprintf("No results found for query '%s'", strings.TrimSpace(input))
				if tag != "" {
					msg += fmt.Sprintf(" with tag '%s'", tag)
				}
				return msg, nil
			}
			var b strings.Builder
			for i, r := range results {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%d. %s", i+1, r)
			}
			return b.String(), nil
		},
	}
}

func hasTag(tags []string, tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
