package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedRender(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("match.usage", map[string]any{"Prefix": "!"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(got, "사용법: !match") {
		t.Fatalf("got %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatal("trailing newline not trimmed")
	}
}

func TestMissingFieldIsError(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("match.usage", map[string]any{}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := c.Render("no.such.key", nil); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("match:\n  duplicate: \"중복!\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, _ := c.Render("match.duplicate", nil)
	if got != "중복!" {
		t.Fatalf("got %q", got)
	}
	if !c.Has("ranking.header") {
		t.Fatal("defaults lost after override")
	}
}

func TestOverrideDuplicateKeyRejected(t *testing.T) {
	dir := t.TempDir()
	body := []byte("unknown: \"x\"\n")
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestBrokenTemplateRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("unknown: \"{{.Prefix\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected parse error")
	}
}
