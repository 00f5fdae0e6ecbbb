package tools

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/jllopis/chorus/pkg/errors"
)

func echoTool() Tool {
	return Func{
		ToolName: "Echo",
		Summary:  "returns its input",
		Fn: func(_ context.Context, input string, _ map[string]string) (string, error) {
			return input, nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	out, err := reg.Execute(context.Background(), "echo", "hello", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hello" {
		t.Errorf("Execute = %q, want hello", out)
	}
	if !reflect.DeepEqual(reg.Names(), []string{"echo"}) {
		t.Errorf("Names() = %v", reg.Names())
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg, _ := NewRegistry()
	_, err := reg.Execute(context.Background(), "missing", "", nil)
	if !errors.HasCode(err, errors.CodeUnknownTool) {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
}

func TestRegistryWrapsToolErrors(t *testing.T) {
	boom := Func{
		ToolName: "boom",
		Fn: func(context.Context, string, map[string]string) (string, error) {
			return "", stderrors.New("disk full")
		},
	}
	explicit := Func{
		ToolName: "explicit",
		Fn: func(context.Context, string, map[string]string) (string, error) {
			return "", Failure("explicit", "nothing to do")
		},
	}
	reg, err := NewRegistry(boom, explicit)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	_, err = reg.Execute(context.Background(), "boom", "", nil)
	if !errors.HasCode(err, errors.CodeToolFailure) {
		t.Fatalf("expected TOOL_FAILURE, got %v", err)
	}
	if got := errors.As(err).Reason(); got != "disk full" {
		t.Errorf("Reason() = %q", got)
	}

	_, err = reg.Execute(context.Background(), "explicit", "", nil)
	if got := errors.As(err).Reason(); got != "nothing to do" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(echoTool(), echoTool()); !errors.HasCode(err, errors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
