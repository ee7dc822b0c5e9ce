package memfs

import (
	"io"
	"io/fs"
	"testing"

	"emperror.dev/errors"
)

func TestCreateAndOpen(t *testing.T) {
	m := New()
	fp, err := m.Create("hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fp.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rc, err := m.Open("hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", string(data))
	}
	fi, err := rc.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 11 || fi.IsDir() {
		t.Errorf("unexpected stat: size=%d dir=%v", fi.Size(), fi.IsDir())
	}
}

func TestCreateTruncates(t *testing.T) {
	m := New()
	if err := m.WriteFile("f.txt", []byte("first version")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.WriteFile("f.txt", []byte("second")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fi, err := m.Stat("f.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 6 {
		t.Errorf("size = %d, expected 6", fi.Size())
	}
}

func TestMkDirReadDir(t *testing.T) {
	m := New()
	if err := m.MkDir("sub"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	if err := m.MkDir("sub"); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second MkDir: %v, expected ErrExist", err)
	}
	if err := m.WriteFile("sub/a.txt", []byte("a")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.WriteFile("sub/b.txt", []byte("b")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := m.ReadDir("sub")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 || entries[0].Name() != "a.txt" || entries[1].Name() != "b.txt" {
		t.Errorf("unexpected entries: %v", entries)
	}
	if _, err := m.ReadDir("missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadDir(missing): %v, expected ErrNotExist", err)
	}
}

func TestRemove(t *testing.T) {
	m := New()
	if err := m.MkDirAll("a/b/c"); err != nil {
		t.Fatalf("MkDirAll: %v", err)
	}
	if err := m.WriteFile("a/b/c/file.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Remove("a/b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Stat("a/b/c/file.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat after Remove: %v", err)
	}
	if _, err := m.Stat("a"); err != nil {
		t.Errorf("parent should survive: %v", err)
	}
	if err := m.Remove("a/b"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove: %v, expected ErrNotExist", err)
	}
}

func TestRename(t *testing.T) {
	m := New()
	if err := m.WriteFile("old.txt", []byte("content")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.MkDir("dir"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	if err := m.Rename("old.txt", "dir/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := m.Stat("old.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("source still present: %v", err)
	}
	fi, err := m.Stat("dir/new.txt")
	if err != nil {
		t.Fatalf("Stat target: %v", err)
	}
	if fi.Name() != "new.txt" {
		t.Errorf("name = %q", fi.Name())
	}

	if err := m.WriteFile("other.txt", []byte("y")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Rename("other.txt", "dir/new.txt"); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Rename onto existing: %v, expected ErrExist", err)
	}
}

func TestRenameDirectoryKeepsChildren(t *testing.T) {
	m := New()
	if err := m.MkDirAll("src/nested"); err != nil {
		t.Fatalf("MkDirAll: %v", err)
	}
	if err := m.WriteFile("src/nested/f.txt", []byte("f")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Rename("src", "dst"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	data, err := fs.ReadFile(m, "dst/nested/f.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "f" {
		t.Errorf("content = %q", string(data))
	}
}

func TestSub(t *testing.T) {
	m := New()
	if err := m.WriteFile("root/inner/file.txt", []byte("data")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sub, err := m.Sub("root")
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	data, err := fs.ReadFile(sub, "inner/file.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("content = %q", string(data))
	}
}

func TestOpenRoot(t *testing.T) {
	m := New()
	if err := m.WriteFile("x.txt", nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := m.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir(.): %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "x.txt" {
		t.Errorf("unexpected root entries: %v", entries)
	}
}
