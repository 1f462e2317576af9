package file

import (
	"testing"

	"buxton/internal/backend"
	"buxton/internal/layer"
	"buxton/internal/wire"
)

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	open := Open(dir)
	l := layer.Layer{Name: "base", BackendID: "persistent"}

	b, err := open(l, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	rec := backend.Record{Value: wire.Value{Type: wire.TypeString, Str: "host1"}, Label: "_"}
	if err := b.Set("net", "hostname", rec); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := open(l, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := b2.Get("net", "hostname")
	if err != nil || !ok || got.Value.Str != "host1" {
		t.Fatalf("Get() after reopen = %+v, ok=%v, err=%v", got, ok, err)
	}
}

func TestFileBackendUserLayerPathIncludesUID(t *testing.T) {
	dir := t.TempDir()
	open := Open(dir)
	l := layer.Layer{Name: "user", BackendID: "persistent", Kind: layer.User}

	b, err := open(l, 1000, true)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	s := b.(*store)
	want := dir + "/user-1000.db"
	if s.path != want {
		t.Fatalf("path = %q, want %q", s.path, want)
	}
}

func TestFileBackendUnsetGroupRemovesSentinel(t *testing.T) {
	dir := t.TempDir()
	open := Open(dir)
	l := layer.Layer{Name: "base", BackendID: "persistent"}

	b, err := open(l, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	sentinel := backend.Record{Value: wire.Value{Type: wire.TypeString, Str: wire.GroupValue}}
	if err := b.Set("net", "", sentinel); err != nil {
		t.Fatal(err)
	}
	if err := b.Unset("net", ""); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get("net", ""); ok {
		t.Fatal("expected group sentinel to be gone after Unset")
	}
}
