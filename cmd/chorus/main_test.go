package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/chorus/pkg/llm"
	"github.com/jllopis/chorus/pkg/orchestrator"
	"github.com/jllopis/chorus/pkg/persona"
	"github.com/jllopis/chorus/pkg/tools"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	base := []string{
		"--set", "llm.provider=echo",
		"--set", "tools.data_dir=" + filepath.Join(dir, "data"),
		"--log-level", "error",
	}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestPersonasCommand(t *testing.T) {
	out, err := run(t, "", "personas")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"generalist (default)", "zen_monk", "shakespeare", "quantum_mentor", "gemma3:4b-it-qat"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestToolsCommand(t *testing.T) {
	out, err := run(t, "", "tools")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"@echo", "@note", "@task", "@search", "@summarize"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestChatOneShot(t *testing.T) {
	out, err := run(t, "", "chat", "-m", "@echo ping")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Tool output: ping\n") || !strings.Contains(out, "llama3.2 says ok") {
		t.Errorf("output = %q", out)
	}
}

func TestChatREPL(t *testing.T) {
	out, err := run(t, "@switch zen_monk\nhello\n@switch pirate\nexit\nnever sent\n", "chat")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Switched to persona 'zen_monk'",
		"tinyllama says ok",
		"! Persona 'pirate' not found",
		"zen_monk> ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "never sent") {
		t.Error("input after exit was processed")
	}
}

func TestBadConfigFails(t *testing.T) {
	if _, err := run(t, "", "personas", "--set", "memory.backend=redis"); err == nil {
		t.Fatal("expected config error")
	}
	var buf bytes.Buffer
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "personas")
	printError(&buf, err)
	if !strings.Contains(buf.String(), "CONFIGURATION_ERROR") || !strings.Contains(buf.String(), "Hint:") {
		t.Errorf("printError = %q", buf.String())
	}
}

func TestRenderCollaboration(t *testing.T) {
	personas, _ := persona.NewRegistry(persona.Defaults()...)
	toolReg, _ := tools.NewRegistry()
	o, err := orchestrator.New(personas, toolReg, llm.EchoBackend{})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	render(&out, o.Process(context.Background(), "please plan my week", o.NewSession()))
	want := "llama3.2 says ok\n" +
		"[zen_monk]: tinyllama says ok\n" +
		"[shakespeare]: gemma3:1b-it-qat says ok\n" +
		"[quantum_mentor]: gemma3:4b-it-qat says ok\n"
	if out.String() != want {
		t.Errorf("render =\n%s\nwant\n%s", out.String(), want)
	}
}
