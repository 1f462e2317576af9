package logging

import "testing"

func TestNewAcceptsValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		if _, err := New(lvl, "json"); err != nil {
			t.Fatalf("New(%q, json) = %v", lvl, err)
		}
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New("verbose", "json"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	if _, err := New("info", "console"); err != nil {
		t.Fatalf("New(info, console) = %v", err)
	}
}
