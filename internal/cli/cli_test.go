package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"loom/internal/bundler"
	"loom/internal/config"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected version output")
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &decoded); err != nil {
		t.Fatalf("invalid json output %q: %v", out, err)
	}
	if decoded["version"] == "" {
		t.Fatal("expected version field")
	}
}

func TestUnknownFlagExitsWithCodeTwo(t *testing.T) {
	_, err := runCommand(t, "prepare", "--bogus")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 2 {
		t.Fatalf("expected exit code 2, got %d", exitErr.Code)
	}
}

func TestSelectPlatformsPrefersArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Platforms = map[string]config.PlatformConfig{"ios": {}, "android": {}}

	got := selectPlatforms(cfg, []string{" iOS "})
	if len(got) != 1 || got[0] != "ios" {
		t.Fatalf("unexpected platforms %v", got)
	}

	got = selectPlatforms(cfg, nil)
	if len(got) != 2 || got[0] != "android" || got[1] != "ios" {
		t.Fatalf("expected sorted configured platforms, got %v", got)
	}
}

func TestWrapPrepareErrorCarriesExitCode(t *testing.T) {
	err := wrapPrepareError(&bundler.ExitError{Platform: "android", Code: 5})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 5 {
		t.Fatalf("expected exit code 5, got %d", exitErr.Code)
	}
}
