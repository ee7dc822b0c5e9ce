// Package memfs provides an in-memory filesystem with the write, mkdir,
// remove and rename capabilities of the backend filesystems. It backs
// mem:// URLs and hermetic tests.
package memfs

import (
	"bytes"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
)

type memObject interface {
	size() int64
}

type memFile struct {
	dataMtx sync.Mutex
	// Must acquire dataMtx to access.
	data []byte
}

func (m *memFile) size() int64 {
	m.dataMtx.Lock()
	defer m.dataMtx.Unlock()
	return int64(len(m.data))
}

var _ memObject = (*memFile)(nil)

type memDir struct {
	// Must acquire MemFS.mtx to access.
	dentries map[string]*memItem
}

func (m *memDir) size() int64 {
	return 0
}

var _ memObject = (*memDir)(nil)

type memItem struct {
	metaMtx    sync.Mutex
	name       string
	mode       fs.FileMode
	createTime time.Time
	modifyTime time.Time
	obj        memObject
}

func newMemItem(mode fs.FileMode, name string, obj memObject) *memItem {
	now := time.Now()
	return &memItem{
		name:       name,
		mode:       mode,
		createTime: now,
		modifyTime: now,
		obj:        obj,
	}
}

func (m *memItem) touch() {
	m.metaMtx.Lock()
	defer m.metaMtx.Unlock()
	m.modifyTime = time.Now()
}

func (m *memItem) rename(name string) {
	m.metaMtx.Lock()
	defer m.metaMtx.Unlock()
	m.name = name
}

type memStat struct {
	name       string
	mode       fs.FileMode
	createTime time.Time
	modifyTime time.Time
	size       int64
}

func (s memStat) IsDir() bool        { return s.mode.IsDir() }
func (s memStat) ModTime() time.Time { return s.modifyTime }
func (s memStat) Mode() fs.FileMode  { return s.mode }
func (s memStat) Name() string       { return s.name }
func (s memStat) Size() int64        { return s.size }

// Sys returns the creation time, which fs.FileInfo has no field for.
func (s memStat) Sys() any { return s.createTime }

var _ fs.FileInfo = memStat{}

func (m *memItem) stat() fs.FileInfo {
	m.metaMtx.Lock()
	defer m.metaMtx.Unlock()
	return memStat{
		name:       m.name,
		mode:       m.mode,
		createTime: m.createTime,
		modifyTime: m.modifyTime,
		size:       m.obj.size(),
	}
}

// MemFS is a thread-safe in-memory file tree.
type MemFS struct {
	mtx      sync.Mutex
	rootItem *memItem
	rootDir  *memDir
}

func New() *MemFS {
	rootDir := &memDir{
		dentries: make(map[string]*memItem),
	}
	rootItem := newMemItem(fs.FileMode(0777)|fs.ModeDir, ".", rootDir)
	return &MemFS{
		rootItem: rootItem,
		rootDir:  rootDir,
	}
}

func (m *MemFS) String() string {
	return "memfs://"
}

func pathError(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// resolve walks name and returns its item. Caller must hold m.mtx.
func (m *MemFS) resolve(name string) (*memItem, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	if name == "." {
		return m.rootItem, nil
	}
	item := m.rootItem
	for _, part := range strings.Split(name, "/") {
		dir, ok := item.obj.(*memDir)
		if !ok {
			return nil, fs.ErrNotExist
		}
		item, ok = dir.dentries[part]
		if !ok {
			return nil, fs.ErrNotExist
		}
	}
	return item, nil
}

// parent resolves the containing directory of name. Caller must hold m.mtx.
func (m *MemFS) parent(name string) (*memItem, *memDir, string, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, nil, "", fs.ErrInvalid
	}
	dirname := "."
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		dirname = name[:idx]
		base = name[idx+1:]
	}
	item, err := m.resolve(dirname)
	if err != nil {
		return nil, nil, "", err
	}
	dir, ok := item.obj.(*memDir)
	if !ok {
		return nil, nil, "", fs.ErrNotExist
	}
	return item, dir, base, nil
}

func (m *MemFS) Open(name string) (fs.File, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	item, err := m.resolve(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	switch obj := item.obj.(type) {
	case *memFile:
		obj.dataMtx.Lock()
		data := make([]byte, len(obj.data))
		copy(data, obj.data)
		obj.dataMtx.Unlock()
		return &memFileHandle{item: item, reader: bytes.NewReader(data)}, nil
	case *memDir:
		entries := make([]fs.DirEntry, 0, len(obj.dentries))
		for _, child := range obj.dentries {
			entries = append(entries, fs.FileInfoToDirEntry(child.stat()))
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		return &memDirHandle{item: item, entries: entries}, nil
	}
	return nil, pathError("open", name, fs.ErrInvalid)
}

func (m *MemFS) ReadDir(name string) ([]fs.DirEntry, error) {
	fp, err := m.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	dir, ok := fp.(*memDirHandle)
	if !ok {
		return nil, pathError("readdir", name, fs.ErrInvalid)
	}
	return dir.ReadDir(-1)
}

func (m *MemFS) Stat(name string) (fs.FileInfo, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	item, err := m.resolve(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return item.stat(), nil
}

// Create opens path for writing, truncating an existing file. The returned
// writer publishes the data on Close.
func (m *MemFS) Create(path string) (io.WriteCloser, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	dirItem, dir, base, err := m.parent(path)
	if err != nil {
		return nil, pathError("create", path, err)
	}
	item, ok := dir.dentries[base]
	if ok {
		if _, isFile := item.obj.(*memFile); !isFile {
			return nil, pathError("create", path, fs.ErrExist)
		}
	} else {
		item = newMemItem(fs.FileMode(0666), base, &memFile{})
		dir.dentries[base] = item
		dirItem.touch()
	}
	return &memWriter{item: item}, nil
}

func (m *MemFS) MkDir(path string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	dirItem, dir, base, err := m.parent(path)
	if err != nil {
		return pathError("mkdir", path, err)
	}
	if _, ok := dir.dentries[base]; ok {
		return pathError("mkdir", path, fs.ErrExist)
	}
	dir.dentries[base] = newMemItem(fs.FileMode(0777)|fs.ModeDir, base, &memDir{dentries: map[string]*memItem{}})
	dirItem.touch()
	return nil
}

// Remove deletes path. Directories are removed with their whole subtree.
func (m *MemFS) Remove(path string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	dirItem, dir, base, err := m.parent(path)
	if err != nil {
		return pathError("remove", path, err)
	}
	if _, ok := dir.dentries[base]; !ok {
		return pathError("remove", path, fs.ErrNotExist)
	}
	delete(dir.dentries, base)
	dirItem.touch()
	return nil
}

// Rename moves src to dst. The destination must not exist.
func (m *MemFS) Rename(src, dst string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	srcDirItem, srcDir, srcBase, err := m.parent(src)
	if err != nil {
		return pathError("rename", src, err)
	}
	item, ok := srcDir.dentries[srcBase]
	if !ok {
		return pathError("rename", src, fs.ErrNotExist)
	}
	dstDirItem, dstDir, dstBase, err := m.parent(dst)
	if err != nil {
		return pathError("rename", dst, err)
	}
	if _, ok := dstDir.dentries[dstBase]; ok {
		return pathError("rename", dst, fs.ErrExist)
	}
	delete(srcDir.dentries, srcBase)
	item.rename(dstBase)
	dstDir.dentries[dstBase] = item
	srcDirItem.touch()
	dstDirItem.touch()
	return nil
}

// Sub returns the tree rooted at dir.
func (m *MemFS) Sub(dir string) (fs.FS, error) {
	m.mtx.Lock()
	item, err := m.resolve(dir)
	m.mtx.Unlock()
	if err != nil {
		return nil, pathError("sub", dir, err)
	}
	if _, ok := item.obj.(*memDir); !ok {
		return nil, pathError("sub", dir, fs.ErrInvalid)
	}
	return &subFS{parent: m, prefix: dir}, nil
}

// MkDirAll creates dir and any missing parents.
func (m *MemFS) MkDirAll(path string) error {
	if !fs.ValidPath(path) {
		return pathError("mkdir", path, fs.ErrInvalid)
	}
	if path == "." {
		return nil
	}
	var prefix string
	for _, part := range strings.Split(path, "/") {
		if prefix == "" {
			prefix = part
		} else {
			prefix = prefix + "/" + part
		}
		if err := m.MkDir(prefix); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// WriteFile creates path with data, creating missing parent directories.
func (m *MemFS) WriteFile(path string, data []byte) error {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		if err := m.MkDirAll(path[:idx]); err != nil {
			return err
		}
	}
	fp, err := m.Create(path)
	if err != nil {
		return err
	}
	if _, err := fp.Write(data); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

type memFileHandle struct {
	item   *memItem
	reader *bytes.Reader
}

func (h *memFileHandle) Read(p []byte) (int, error) {
	return h.reader.Read(p)
}

func (h *memFileHandle) Seek(offset int64, whence int) (int64, error) {
	return h.reader.Seek(offset, whence)
}

func (h *memFileHandle) Stat() (fs.FileInfo, error) {
	return h.item.stat(), nil
}

func (h *memFileHandle) Close() error {
	return nil
}

type memDirHandle struct {
	item    *memItem
	entries []fs.DirEntry
	offset  int
}

func (h *memDirHandle) Read(p []byte) (int, error) {
	return 0, pathError("read", h.item.name, fs.ErrInvalid)
}

func (h *memDirHandle) Stat() (fs.FileInfo, error) {
	return h.item.stat(), nil
}

func (h *memDirHandle) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		entries := h.entries[h.offset:]
		h.offset = len(h.entries)
		return entries, nil
	}
	if h.offset >= len(h.entries) {
		return nil, io.EOF
	}
	end := h.offset + n
	if end > len(h.entries) {
		end = len(h.entries)
	}
	entries := h.entries[h.offset:end]
	h.offset = end
	return entries, nil
}

func (h *memDirHandle) Close() error {
	return nil
}

type memWriter struct {
	item   *memItem
	buf    bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	file := w.item.obj.(*memFile)
	file.dataMtx.Lock()
	file.data = w.buf.Bytes()
	file.dataMtx.Unlock()
	w.item.touch()
	return nil
}

type subFS struct {
	parent *MemFS
	prefix string
}

func (s *subFS) full(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	if name == "." {
		return s.prefix, nil
	}
	return s.prefix + "/" + name, nil
}

func (s *subFS) Open(name string) (fs.File, error) {
	full, err := s.full(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return s.parent.Open(full)
}

func (s *subFS) ReadDir(name string) ([]fs.DirEntry, error) {
	full, err := s.full(name)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}
	return s.parent.ReadDir(full)
}

func (s *subFS) Stat(name string) (fs.FileInfo, error) {
	full, err := s.full(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return s.parent.Stat(full)
}

var (
	_ fs.FS        = (*MemFS)(nil)
	_ fs.ReadDirFS = (*MemFS)(nil)
	_ fs.StatFS    = (*MemFS)(nil)
	_ fs.ReadDirFS = (*subFS)(nil)
)
