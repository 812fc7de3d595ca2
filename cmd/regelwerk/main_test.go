package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pitabwire/regelwerk/internal/config"
	"github.com/pitabwire/regelwerk/internal/seed"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "regelwerk dev") {
		t.Errorf("output = %q", out)
	}
}

func TestMigrateCmd_sqlite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regelwerk.db")
	cfg := writeConfig(t, "store:\n  driver: sqlite\n  sqlite_path: "+db+"\n")

	out, err := execute(t, "--config", cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	if !strings.Contains(out, "applied") {
		t.Errorf("first run output = %q, want applied migrations", out)
	}

	out, err = execute(t, "--config", cfg, "migrate")
	if err != nil {
		t.Fatalf("second migrate error: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second run output = %q", out)
	}
}

func TestSeedCmd_sqlite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regelwerk.db")
	cfg := writeConfig(t, "store:\n  driver: sqlite\n  sqlite_path: "+db+"\n")
	dir := filepath.Join("..", "..", "internal", "seed", "testdata", "basic")

	out, err := execute(t, "--config", cfg, "seed", "--dry-run", dir)
	if err != nil {
		t.Fatalf("dry run error: %v", err)
	}
	if !strings.Contains(out, "documents valid") {
		t.Errorf("dry run output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "seed", dir)
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}
	var res seed.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out)
	}
	if res.FieldsCreated != 3 || res.TemplatesCreated != 1 {
		t.Errorf("result = %+v", res)
	}

	out, err = execute(t, "--config", cfg, "seed", dir)
	if err != nil {
		t.Fatalf("second seed error: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.FieldsUnchanged != 3 || res.TemplatesUnchanged != 1 {
		t.Errorf("second result = %+v", res)
	}

	out, err = execute(t, "--config", cfg, "verify")
	if err != nil {
		t.Fatalf("verify error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "well-formed") {
		t.Errorf("verify output = %q", out)
	}
}

func TestSeedCmd_invalid(t *testing.T) {
	dir := filepath.Join("..", "..", "internal", "seed", "testdata", "invalid")

	out, err := execute(t, "seed", dir)
	if err == nil {
		t.Fatal("seed of invalid definitions should fail")
	}
	if !strings.Contains(out, "REF_NOT_FOUND") {
		t.Errorf("output should list validation errors, got %q", out)
	}
}

func TestRootCmd_badConfig(t *testing.T) {
	cfg := writeConfig(t, "store:\n  driver: cassandra\n")
	if _, err := execute(t, "--config", cfg, "verify"); err == nil {
		t.Error("an unknown store driver should fail")
	}
}

func TestServe_flushesTracingOnStartupFailure(t *testing.T) {
	flushed := 0
	orig := initTracing
	initTracing = func(context.Context, config.TracingConfig, string, string) (func(context.Context) error, error) {
		return func(context.Context) error { flushed++; return nil }, nil
	}
	t.Cleanup(func() { initTracing = orig })

	dir := filepath.Join("..", "..", "internal", "seed", "testdata", "invalid")
	cfg := writeConfig(t, "seed:\n  enabled: true\n  directories: ["+dir+"]\n")

	if _, err := execute(t, "--config", cfg, "serve"); err == nil || !strings.Contains(err.Error(), "seed") {
		t.Fatalf("serve error = %v, want seed failure", err)
	}
	if flushed != 1 {
		t.Errorf("tracing flushed %d times, want 1", flushed)
	}
}
