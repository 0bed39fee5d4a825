package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSConverterRoundTrip(t *testing.T) {
	root := t.TempDir()
	conv := NewOSConverter(root)

	path := filepath.Join(root, "src", "A.src")
	ref := conv.ToRef(path)
	if ref != "src/A.src" {
		t.Errorf("ToRef = %q, want workspace-relative slash path", ref)
	}
	if got := conv.ToPath(ref); got != path {
		t.Errorf("ToPath = %q, want %q", got, path)
	}
}

func TestOSConverterKeepsOutsidePathsAbsolute(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	conv := NewOSConverter(root)

	ref := conv.ToRef(filepath.Join(other, "rt.jar"))
	if !filepath.IsAbs(filepath.FromSlash(string(ref))) {
		t.Errorf("library outside the workspace should keep an absolute ref, got %q", ref)
	}
	if got := conv.ToPath(ref); got != filepath.Join(other, "rt.jar") {
		t.Errorf("ToPath = %q", got)
	}
}

func TestOSVirtualFile(t *testing.T) {
	root := t.TempDir()
	conv := NewOSConverter(root)
	path := filepath.Join(root, "A.src")
	if err := os.WriteFile(path, []byte("class A"), 0o644); err != nil {
		t.Fatal(err)
	}

	vf := conv.ToVirtualFile(conv.ToRef(path))
	content, err := vf.Content()
	if err != nil {
		t.Fatalf("Content() unexpected error: %v", err)
	}
	if string(content) != "class A" {
		t.Errorf("content = %q", content)
	}
	if _, err := vf.LastModified(); err != nil {
		t.Errorf("LastModified() unexpected error: %v", err)
	}

	missing := conv.ToVirtualFile("nope.src")
	if _, err := missing.Content(); err == nil {
		t.Errorf("missing file must error on read")
	}
}

func TestMapConverterModificationClock(t *testing.T) {
	conv := NewMapConverter()
	conv.Put("a.src", []byte("v1"))
	vf := conv.ToVirtualFile("a.src")

	first, err := vf.LastModified()
	if err != nil {
		t.Fatal(err)
	}
	conv.Put("a.src", []byte("v2"))
	second, err := vf.LastModified()
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Errorf("rewrite must advance the modification clock: %d then %d", first, second)
	}

	conv.Remove("a.src")
	if _, err := vf.Content(); err == nil {
		t.Errorf("removed file must error on read")
	}
}
