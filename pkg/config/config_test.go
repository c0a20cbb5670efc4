package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmeter.yaml")
	yamlBody := `
input:
  interface: eth0
export:
  collector: 127.0.0.1:4739
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Input.Workers != 1 {
		t.Fatalf("expected default Workers=1, got %d", cfg.Input.Workers)
	}
	if cfg.FlowCache.BucketBits != 20 {
		t.Fatalf("expected default BucketBits=20, got %d", cfg.FlowCache.BucketBits)
	}
	if cfg.Export.MTU != 1400 {
		t.Fatalf("expected default MTU=1400, got %d", cfg.Export.MTU)
	}
	if cfg.Input.Interface != "eth0" {
		t.Fatalf("expected configured interface preserved, got %q", cfg.Input.Interface)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/flowmeter.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParsePluginOption(t *testing.T) {
	opts, err := ParsePluginOption("pstats:skipdup=1;include_zeroes=0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Name != "pstats" {
		t.Fatalf("expected name=pstats, got %q", opts.Name)
	}
	if !opts.BoolOpt("skipdup", false) {
		t.Fatal("expected skipdup=true")
	}
	if opts.BoolOpt("include_zeroes", true) {
		t.Fatal("expected include_zeroes=false")
	}
	if opts.IntOpt("missing", 42) != 42 {
		t.Fatal("expected default for missing int option")
	}
}

func TestParsePluginOptionNoOpts(t *testing.T) {
	opts, err := ParsePluginOption("basicplus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Name != "basicplus" || len(opts.Opts) != 0 {
		t.Fatalf("expected bare name with no options, got %+v", opts)
	}
}

func TestParsePluginOptionErrors(t *testing.T) {
	if _, err := ParsePluginOption(":opt=1"); err == nil {
		t.Fatal("expected error for empty plugin name")
	}
	if _, err := ParsePluginOption("pstats:malformed"); err == nil {
		t.Fatal("expected error for option pair missing '='")
	}
}
