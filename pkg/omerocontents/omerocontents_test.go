package omerocontents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/omero"
)

var testNotebook = []byte(`{
 "cells": [],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`)

type storedFile struct {
	meta    *omero.OriginalFile
	content []byte
}

// fakeStore serves just enough of the JSON API for the manager.
type fakeStore struct {
	t      *testing.T
	files  map[int64]*storedFile
	nextID int64
}

func (s *fakeStore) add(name, mimetype string, content []byte) *omero.OriginalFile {
	id := s.nextID
	s.nextID++
	meta := &omero.OriginalFile{
		ID: id, Name: name, Path: "/jupyter", Size: int64(len(content)),
		Mimetype: mimetype, Mtime: time.Now().UnixMilli(),
	}
	s.files[id] = &storedFile{meta: meta, content: content}
	return meta
}

func (s *fakeStore) byName(name string) *storedFile {
	for _, f := range s.files {
		if f.meta.Name == name {
			return f
		}
	}
	return nil
}

func (s *fakeStore) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v0/token/":
		s.json(w, 200, map[string]string{"data": "t"})
	case r.URL.Path == "/api/v0/login/logout/":
		s.json(w, 200, map[string]bool{"success": true})
	case r.URL.Path == "/api/v0/m/originalfiles/":
		matches := []*omero.OriginalFile{}
		name := r.URL.Query().Get("name")
		for id := int64(1); id < s.nextID; id++ {
			f, ok := s.files[id]
			if !ok || f.meta.Path != r.URL.Query().Get("path") {
				continue
			}
			if name != "" && f.meta.Name != name {
				continue
			}
			matches = append(matches, f.meta)
		}
		s.json(w, 200, map[string]any{
			"data": matches,
			"meta": map[string]int{"offset": 0, "limit": 200, "totalCount": len(matches)},
		})
	case strings.HasPrefix(r.URL.Path, "/api/v0/m/originalfiles/"):
		raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v0/m/originalfiles/"), "/")
		id, _ := strconv.ParseInt(raw, 10, 64)
		f, ok := s.files[id]
		if !ok {
			s.json(w, 404, map[string]string{"message": "not found"})
			return
		}
		switch r.Method {
		case http.MethodPut:
			var patch omero.FilePatch
			json.NewDecoder(r.Body).Decode(&patch)
			if patch.Name != nil {
				f.meta.Name = *patch.Name
			}
			if patch.Mimetype != nil {
				f.meta.Mimetype = *patch.Mimetype
			}
			s.json(w, 200, map[string]any{"data": f.meta})
		case http.MethodDelete:
			delete(s.files, id)
			w.WriteHeader(204)
		default:
			s.json(w, 200, map[string]any{"data": f.meta})
		}
	case strings.HasPrefix(r.URL.Path, "/webclient/download_original_file/"):
		raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webclient/download_original_file/"), "/")
		id, _ := strconv.ParseInt(raw, 10, 64)
		f, ok := s.files[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(f.content)
	case r.URL.Path == "/webclient/upload_original_file/":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			s.json(w, 400, map[string]string{"message": err.Error()})
			return
		}
		part, _, err := r.FormFile("file")
		if err != nil {
			s.json(w, 400, map[string]string{"message": err.Error()})
			return
		}
		defer part.Close()
		content, _ := io.ReadAll(part)
		name := r.FormValue("name")
		if f := s.byName(name); f != nil {
			f.content = content
			f.meta.Size = int64(len(content))
			f.meta.Mtime = time.Now().UnixMilli()
			s.json(w, 200, map[string]any{"data": f.meta})
			return
		}
		meta := s.add(name, r.FormValue("mimetype"), content)
		s.json(w, 201, map[string]any{"data": meta})
	default:
		http.NotFound(w, r)
	}
}

func newTestManager(t *testing.T, allowHidden bool) (*fakeStore, *Manager) {
	t.Helper()
	store := &fakeStore{t: t, files: map[int64]*storedFile{}, nextID: 1}
	store.add("hello.txt", "text/csv", []byte("hello world\n"))
	store.add("plain.txt", "", []byte("plain\n"))
	store.add("blob.bin", "", []byte{0xff, 0xfe, 0x00})
	store.add("nb.ipynb", "", testNotebook)
	store.add("._checkpoint0_old.txt", "", []byte("cp"))
	store.add(".hidden.txt", "", []byte("x"))
	server := httptest.NewServer(store)
	t.Cleanup(server.Close)
	client, err := omero.NewClient(server.URL)
	if err != nil {
		t.Fatalf("cannot create client: %v", err)
	}
	m := NewManager(client, allowHidden, nil)
	t.Cleanup(func() { _ = m.Close() })
	return store, m
}

func TestGetRoot(t *testing.T) {
	_, m := newTestManager(t, false)

	model, err := m.Get(context.Background(), "/", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatalf("cannot get root: %v", err)
	}
	if model.Type != contents.TypeDirectory {
		t.Errorf("root type is '%s'", model.Type)
	}
	if !model.Created.Equal(contents.DefaultCreated) {
		t.Errorf("root created is %v, expected epoch", model.Created)
	}
	children, ok := model.Content.([]*contents.Model)
	if !ok || len(children) != 1 {
		t.Fatalf("root content is %v", model.Content)
	}
	if children[0].Path != "jupyter" || children[0].Type != contents.TypeDirectory {
		t.Errorf("root child is '%s'/'%s'", children[0].Path, children[0].Type)
	}
}

func TestGetJupyterDir(t *testing.T) {
	_, m := newTestManager(t, false)

	model, err := m.Get(context.Background(), "jupyter", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatalf("cannot list jupyter dir: %v", err)
	}
	types := map[string]string{}
	for _, child := range model.Content.([]*contents.Model) {
		types[child.Name] = child.Type
	}
	want := map[string]string{
		"hello.txt": contents.TypeFile,
		"plain.txt": contents.TypeFile,
		"blob.bin":  contents.TypeFile,
		"nb.ipynb":  contents.TypeNotebook,
	}
	if len(types) != len(want) {
		t.Errorf("listing has %d entries, expected %d: %v", len(types), len(want), types)
	}
	for name, typ := range want {
		if types[name] != typ {
			t.Errorf("child '%s' has type '%s', expected '%s'", name, types[name], typ)
		}
	}
}

func TestGetJupyterDirAllowHidden(t *testing.T) {
	_, m := newTestManager(t, true)

	model, err := m.Get(context.Background(), "jupyter", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(model.Content.([]*contents.Model)); n != 6 {
		t.Errorf("listing has %d entries, expected 6", n)
	}
}

func TestGetFile(t *testing.T) {
	_, m := newTestManager(t, false)
	ctx := context.Background()

	model, err := m.Get(ctx, "jupyter/hello.txt", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatalf("cannot get file: %v", err)
	}
	if model.Content != "hello world\n" {
		t.Errorf("content is %q", model.Content)
	}
	if model.Mimetype == nil || *model.Mimetype != "text/csv" {
		t.Errorf("stored mimetype not preferred: %v", model.Mimetype)
	}
	if model.Size == nil || *model.Size != 12 {
		t.Errorf("size is %v", model.Size)
	}
	if !model.Created.Equal(model.LastModified) {
		t.Error("created and modified differ")
	}

	guessed, err := m.Get(ctx, "jupyter/plain.txt", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatal(err)
	}
	if guessed.Mimetype == nil || *guessed.Mimetype != "text/plain" {
		t.Errorf("mimetype guess is %v, expected 'text/plain'", guessed.Mimetype)
	}

	blob, err := m.Get(ctx, "jupyter/blob.bin", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatal(err)
	}
	if blob.Format == nil || *blob.Format != contents.FormatBase64 {
		t.Errorf("binary format is %v", blob.Format)
	}
	if blob.Content != "//4A" {
		t.Errorf("binary content is %q", blob.Content)
	}

	if _, err := m.Get(ctx, "jupyter/blob.bin", contents.GetOptions{Content: true, Format: contents.FormatText}); !contents.IsCode(err, contents.CodeBadEncoding) {
		t.Errorf("text read of binary returned %v", err)
	}
}

func TestGetNotebook(t *testing.T) {
	_, m := newTestManager(t, false)

	model, err := m.Get(context.Background(), "jupyter/nb.ipynb", contents.GetOptions{Content: true})
	if err != nil {
		t.Fatalf("cannot get notebook: %v", err)
	}
	if model.Type != contents.TypeNotebook {
		t.Errorf("type is '%s'", model.Type)
	}
	if model.Format == nil || *model.Format != contents.FormatJSON {
		t.Errorf("format is %v", model.Format)
	}
	if _, ok := model.Content.(map[string]any); !ok {
		t.Errorf("content is %T", model.Content)
	}
	if model.Message != "" {
		t.Errorf("valid notebook carries message %q", model.Message)
	}
}

func TestGetErrors(t *testing.T) {
	_, m := newTestManager(t, false)
	ctx := context.Background()

	var testData = []struct {
		name string
		path string
		code contents.ErrorCode
	}{
		{"missing file", "jupyter/nope.txt", contents.CodeNotFound},
		{"file outside jupyter", "top.txt", contents.CodeNotFound},
		{"unknown directory", "elsewhere/x.txt", contents.CodeNotFound},
		{"escape", "../muhaha", contents.CodeBadPath},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			_, err := m.Get(ctx, test.path, contents.GetOptions{})
			if !contents.IsCode(err, test.code) {
				t.Errorf("got %v, expected code '%s'", err, test.code)
			}
		})
	}

	if _, err := m.Get(ctx, "elsewhere", contents.GetOptions{Type: contents.TypeDirectory}); !contents.IsCode(err, contents.CodeNotFound) {
		t.Errorf("unknown directory returned %v", err)
	}
}

func TestSave(t *testing.T) {
	store, m := newTestManager(t, false)
	ctx := context.Background()

	model, err := m.Save(ctx, &contents.IncomingModel{
		Type:     contents.TypeFile,
		Format:   contents.FormatText,
		Mimetype: "text/markdown",
		Content:  json.RawMessage(`"# fresh\n"`),
	}, "jupyter/fresh.md")
	if err != nil {
		t.Fatalf("cannot save: %v", err)
	}
	if model.Path != "jupyter/fresh.md" {
		t.Errorf("saved path is '%s'", model.Path)
	}
	stored := store.byName("fresh.md")
	if stored == nil {
		t.Fatal("file not stored")
	}
	if string(stored.content) != "# fresh\n" {
		t.Errorf("stored content is %q", stored.content)
	}
	if stored.meta.Mimetype != "text/markdown" {
		t.Errorf("stored mimetype is '%s'", stored.meta.Mimetype)
	}

	if _, err := m.Save(ctx, &contents.IncomingModel{
		Type:    contents.TypeFile,
		Format:  contents.FormatText,
		Content: json.RawMessage(`"changed"`),
	}, "jupyter/hello.txt"); err != nil {
		t.Fatalf("cannot overwrite: %v", err)
	}
	if got := string(store.byName("hello.txt").content); got != "changed" {
		t.Errorf("overwrite produced %q", got)
	}

	nb, err := m.Save(ctx, &contents.IncomingModel{
		Type:    contents.TypeNotebook,
		Content: json.RawMessage(string(testNotebook)),
	}, "jupyter/fresh.ipynb")
	if err != nil {
		t.Fatalf("cannot save notebook: %v", err)
	}
	if nb.Type != contents.TypeNotebook || nb.Message != "" {
		t.Errorf("notebook save produced '%s' message %q", nb.Type, nb.Message)
	}
	if got := store.byName("fresh.ipynb").meta.Mimetype; got != "application/x-ipynb+json" {
		t.Errorf("detected mimetype is '%s'", got)
	}
}

func TestSaveErrors(t *testing.T) {
	_, m := newTestManager(t, false)
	ctx := context.Background()

	var testData = []struct {
		name  string
		model *contents.IncomingModel
		path  string
		code  contents.ErrorCode
	}{
		{
			"no type",
			&contents.IncomingModel{Content: json.RawMessage(`"x"`)},
			"jupyter/a.txt", contents.CodeBadType,
		},
		{
			"directory",
			&contents.IncomingModel{Type: contents.TypeDirectory},
			"jupyter/sub", contents.CodeBadType,
		},
		{
			"outside jupyter",
			&contents.IncomingModel{Type: contents.TypeFile, Format: contents.FormatText, Content: json.RawMessage(`"x"`)},
			"top.txt", contents.CodeBadLocation,
		},
		{
			"nested below jupyter",
			&contents.IncomingModel{Type: contents.TypeFile, Format: contents.FormatText, Content: json.RawMessage(`"x"`)},
			"jupyter/sub/a.txt", contents.CodeBadLocation,
		},
		{
			"no content",
			&contents.IncomingModel{Type: contents.TypeFile, Format: contents.FormatText},
			"jupyter/a.txt", contents.CodeNoContent,
		},
		{
			"bad format",
			&contents.IncomingModel{Type: contents.TypeFile, Format: "json", Content: json.RawMessage(`"x"`)},
			"jupyter/a.txt", contents.CodeBadFormat,
		},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			_, err := m.Save(ctx, test.model, test.path)
			if !contents.IsCode(err, test.code) {
				t.Errorf("got %v, expected code '%s'", err, test.code)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	store, m := newTestManager(t, false)
	ctx := context.Background()

	if err := m.Delete(ctx, "jupyter/hello.txt"); err != nil {
		t.Fatalf("cannot delete: %v", err)
	}
	if store.byName("hello.txt") != nil {
		t.Error("file survives delete")
	}
	if err := m.Delete(ctx, "jupyter/hello.txt"); !contents.IsCode(err, contents.CodeNotFound) {
		t.Errorf("deleting missing returned %v", err)
	}
	if err := m.Delete(ctx, "jupyter"); !contents.IsCode(err, contents.CodeNotFound) {
		t.Errorf("deleting the directory returned %v", err)
	}
}

func TestRename(t *testing.T) {
	store, m := newTestManager(t, false)
	ctx := context.Background()

	model, err := m.Rename(ctx, "jupyter/hello.txt", "jupyter/renamed.txt")
	if err != nil {
		t.Fatalf("cannot rename: %v", err)
	}
	if model.Path != "jupyter/renamed.txt" {
		t.Errorf("renamed path is '%s'", model.Path)
	}
	if store.byName("hello.txt") != nil || store.byName("renamed.txt") == nil {
		t.Error("rename did not move the stored file")
	}

	var testData = []struct {
		name     string
		old, new string
		code     contents.ErrorCode
	}{
		{"to existing", "jupyter/nb.ipynb", "jupyter/blob.bin", contents.CodeTargetExists},
		{"missing source", "jupyter/nope.txt", "jupyter/other.txt", contents.CodeNotFound},
		{"outside jupyter", "jupyter/nb.ipynb", "nb.ipynb", contents.CodeBadLocation},
		{"from outside", "top.txt", "jupyter/top.txt", contents.CodeBadLocation},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			_, err := m.Rename(ctx, test.old, test.new)
			if !contents.IsCode(err, test.code) {
				t.Errorf("got %v, expected code '%s'", err, test.code)
			}
		})
	}
}

func TestExists(t *testing.T) {
	_, m := newTestManager(t, false)
	ctx := context.Background()

	var testData = []struct {
		path      string
		file, dir bool
	}{
		{"jupyter/hello.txt", true, false},
		{"jupyter", false, true},
		{"", false, true},
		{"jupyter/nope.txt", false, false},
		{"elsewhere", false, false},
	}
	for _, test := range testData {
		if ok, err := m.FileExists(ctx, test.path); err != nil || ok != test.file {
			t.Errorf("FileExists('%s') = %v, %v, expected %v", test.path, ok, err, test.file)
		}
		if ok, err := m.DirExists(ctx, test.path); err != nil || ok != test.dir {
			t.Errorf("DirExists('%s') = %v, %v, expected %v", test.path, ok, err, test.dir)
		}
	}

	if !m.IsHidden("jupyter/.hidden.txt") {
		t.Error("IsHidden misses dotted name")
	}
	if m.IsHidden("jupyter/hello.txt") {
		t.Error("IsHidden flags plain name")
	}
}

func TestCheckpoints(t *testing.T) {
	store, m := newTestManager(t, false)
	cp := NewCheckpoints(m, "")
	ctx := context.Background()

	list, err := cp.ListCheckpoints(ctx, "jupyter/hello.txt")
	if err != nil {
		t.Fatalf("list on fresh file failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("fresh file lists %d checkpoints", len(list))
	}

	created, err := cp.CreateFileCheckpoint(ctx, []byte("hello world\n"), contents.FormatText, "jupyter/hello.txt")
	if err != nil {
		t.Fatalf("cannot create checkpoint: %v", err)
	}
	if created.ID != "0" || created.LastModified.IsZero() {
		t.Errorf("checkpoint is %+v", created)
	}
	if store.byName("._checkpoint0_hello.txt") == nil {
		t.Error("checkpoint file not stored under prefixed name")
	}

	got, err := cp.GetFileCheckpoint(ctx, "0", "jupyter/hello.txt")
	if err != nil {
		t.Fatalf("cannot read checkpoint: %v", err)
	}
	if got.Format != contents.FormatText || string(got.Content) != "hello world\n" {
		t.Errorf("checkpoint content is %s/%q", got.Format, got.Content)
	}

	if _, err := cp.CreateNotebookCheckpoint(ctx, testNotebook, "jupyter/nb.ipynb"); err != nil {
		t.Fatalf("cannot checkpoint notebook: %v", err)
	}
	nb, err := cp.GetNotebookCheckpoint(ctx, "0", "jupyter/nb.ipynb")
	if err != nil {
		t.Fatal(err)
	}
	if nb.Type != contents.TypeNotebook || nb.Format != contents.FormatJSON {
		t.Errorf("notebook checkpoint is %s/%s", nb.Type, nb.Format)
	}

	if err := cp.RenameAllCheckpoints(ctx, "jupyter/hello.txt", "jupyter/moved.txt"); err != nil {
		t.Fatalf("cannot rename checkpoints: %v", err)
	}
	if store.byName("._checkpoint0_moved.txt") == nil {
		t.Error("checkpoint not renamed")
	}
	if len(mustList(t, cp, "jupyter/hello.txt")) != 0 {
		t.Error("old checkpoint still listed")
	}
	if len(mustList(t, cp, "jupyter/moved.txt")) != 1 {
		t.Error("renamed checkpoint missing")
	}

	if err := cp.DeleteCheckpoint(ctx, "0", "jupyter/moved.txt"); err != nil {
		t.Fatalf("cannot delete checkpoint: %v", err)
	}
	if err := cp.DeleteCheckpoint(ctx, "0", "jupyter/moved.txt"); !contents.IsCode(err, contents.CodeNotFound) {
		t.Errorf("deleting missing checkpoint returned %v", err)
	}

	if err := cp.DeleteAllCheckpoints(ctx, "jupyter/nb.ipynb"); err != nil {
		t.Fatalf("cannot delete all: %v", err)
	}
	if len(mustList(t, cp, "jupyter/nb.ipynb")) != 0 {
		t.Error("checkpoint survives delete all")
	}

	if _, err := cp.CreateFileCheckpoint(ctx, []byte("x"), contents.FormatText, "top.txt"); !contents.IsCode(err, contents.CodeBadLocation) {
		t.Errorf("checkpoint outside jupyter returned %v", err)
	}
}

func mustList(t *testing.T, cp *Checkpoints, path string) []*contents.Checkpoint {
	t.Helper()
	list, err := cp.ListCheckpoints(context.Background(), path)
	if err != nil {
		t.Fatalf("cannot list checkpoints of '%s': %v", path, err)
	}
	return list
}
