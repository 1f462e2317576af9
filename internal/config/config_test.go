package config

import (
	"os"
	"path/filepath"
	"testing"

	"buxton/internal/layer"
)

func TestDaemonConfigValidate(t *testing.T) {
	cfg := &DaemonConfig{Socket: "/run/buxton/socket", StorageRoot: "/var/lib/buxton", LogLevel: "info", LogFormat: "json"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	bad := *cfg
	bad.LogLevel = "verbose"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadLayerConfigPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layers.conf")
	contents := `
[base]
type = System
backend = persistent
priority = 1
description = system base layer

[u1]
type = User
backend = memory
priority = 10
description = first user layer

[u2]
type = User
backend = memory
priority = 20
description = second user layer
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	layers, err := LoadLayerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 3 {
		t.Fatalf("got %d layers, want 3", len(layers))
	}
	wantNames := []string{"base", "u1", "u2"}
	for i, l := range layers {
		if l.Name != wantNames[i] || l.Order != i {
			t.Fatalf("layer %d = %+v, want name=%s order=%d", i, l, wantNames[i], i)
		}
	}
	if layers[0].Kind != layer.System || layers[1].Kind != layer.User {
		t.Fatalf("kinds = %v, %v", layers[0].Kind, layers[1].Kind)
	}
}

func TestLoadLayerConfigRejectsBadType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layers.conf")
	os.WriteFile(path, []byte("[base]\ntype = bogus\nbackend = memory\npriority = 1\n"), 0644)

	if _, err := LoadLayerConfig(path); err == nil {
		t.Fatal("expected error for invalid layer type")
	}
}
