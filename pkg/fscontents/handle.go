// Package fscontents implements contents management over the virtual
// filesystem backends. One Handle is opened per filesystem URL and shared
// by the Manager and the Checkpoints.
package fscontents

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/je4/filesystem/v3/pkg/writefs"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/fsurl"
	"github.com/jupyfs/jupyfs/pkg/memfs"
	"github.com/rs/zerolog"
)

// Capability interfaces of the backend filesystems. Backends missing one
// fall back to the local-directory path or fail with ErrNotImplemented.
type MkDirFS interface {
	MkDir(path string) error
}

type RemoveFS interface {
	Remove(path string) error
}

type RenameFS interface {
	Rename(src, dest string) error
}

type handleConfig struct {
	create      bool
	writable    bool
	keepalive   time.Duration
	closeOnExit bool
	logger      zLogger.ZLogger
}

type HandleOption func(*handleConfig)

// WithCreate creates a missing local target directory before opening.
func WithCreate(create bool) HandleOption {
	return func(cfg *handleConfig) { cfg.create = create }
}

// WithWritable opened read-only rejects every mutation with a conflict.
func WithWritable(writable bool) HandleOption {
	return func(cfg *handleConfig) { cfg.writable = writable }
}

// WithKeepalive stats the root at the given interval, 0 disables.
func WithKeepalive(interval time.Duration) HandleOption {
	return func(cfg *handleConfig) { cfg.keepalive = interval }
}

// WithCloseOnExit marks the handle for closing during process shutdown.
func WithCloseOnExit(closeOnExit bool) HandleOption {
	return func(cfg *handleConfig) { cfg.closeOnExit = closeOnExit }
}

func WithLogger(logger zLogger.ZLogger) HandleOption {
	return func(cfg *handleConfig) { cfg.logger = logger }
}

// Handle is one open backend filesystem.
type Handle struct {
	fsys        fs.FS
	fsURL       string
	redacted    string
	localDir    string
	viaFactory  bool
	writable    bool
	closeOnExit bool
	logger      zLogger.ZLogger

	mtx       sync.Mutex
	kaDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewHandle opens the filesystem named by fsURL. mem:// URLs are served
// in-process; URLs with other schemes and plain paths go through the
// writefs factory set up by the caller.
func NewHandle(factory *writefs.Factory, fsURL string, opts ...HandleOption) (*Handle, error) {
	cfg := &handleConfig{writable: true, closeOnExit: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		nop := zerolog.Nop()
		cfg.logger = &nop
	}

	h := &Handle{
		fsURL:       fsURL,
		redacted:    fsURL,
		writable:    cfg.writable,
		closeOnExit: cfg.closeOnExit,
		logger:      cfg.logger,
	}

	target := fsURL
	if fsurl.IsURL(fsURL) {
		u, err := fsurl.Parse(fsURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid filesystem url '%s'", fsURL)
		}
		h.redacted = u.Redacted()
		if u.Scheme == "mem" {
			h.fsys = memfs.New()
			h.logger.Debug().Msgf("opened in-memory filesystem '%s'", h.redacted)
			h.EnableKeepalive(cfg.keepalive)
			return h, nil
		}
		target = u.Resource
	} else if strings.Contains(fsURL, "://") {
		return nil, errors.Errorf("invalid filesystem url scheme in '%s'", fsURL)
	}

	if isLocalDir(target) {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve '%s'", target)
		}
		h.localDir = abs
		if cfg.create {
			if err := os.MkdirAll(abs, 0755); err != nil {
				return nil, errors.Wrapf(err, "cannot create '%s'", abs)
			}
		}
		target = abs
	}

	if factory == nil {
		return nil, errors.Errorf("no filesystem factory for '%s'", h.redacted)
	}
	fsys, err := factory.Get(target)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open filesystem '%s'", h.redacted)
	}
	h.fsys = fsys
	h.viaFactory = true
	h.logger.Debug().Msgf("opened filesystem '%s'", h.redacted)
	h.EnableKeepalive(cfg.keepalive)
	return h, nil
}

// NewMemHandle returns a handle over fsys for tests and mem:// serving.
func NewMemHandle(fsys *memfs.MemFS, opts ...HandleOption) *Handle {
	cfg := &handleConfig{writable: true, closeOnExit: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		nop := zerolog.Nop()
		cfg.logger = &nop
	}
	h := &Handle{
		fsys:        fsys,
		fsURL:       "mem://",
		redacted:    "mem://",
		writable:    cfg.writable,
		closeOnExit: cfg.closeOnExit,
		logger:      cfg.logger,
	}
	h.EnableKeepalive(cfg.keepalive)
	return h
}

// isLocalDir decides whether target names a local directory tree rather
// than an archive or a bucket handled by the factory registrations.
func isLocalDir(target string) bool {
	if strings.HasPrefix(target, "arn:") {
		return false
	}
	return !strings.HasSuffix(strings.ToLower(target), ".zip")
}

func (h *Handle) URL() string {
	return h.redacted
}

func (h *Handle) Writable() bool {
	return h.writable
}

func (h *Handle) CloseOnExit() bool {
	return h.closeOnExit
}

func (h *Handle) FS() fs.FS {
	return h.fsys
}

// fsPath maps a canonical relative API path to an io/fs name.
func fsPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func (h *Handle) Stat(p string) (fs.FileInfo, error) {
	return fs.Stat(h.fsys, fsPath(p))
}

func (h *Handle) ReadDir(p string) ([]fs.DirEntry, error) {
	return fs.ReadDir(h.fsys, fsPath(p))
}

func (h *Handle) ReadFile(p string) ([]byte, error) {
	return fs.ReadFile(h.fsys, fsPath(p))
}

func (h *Handle) guardWrite(p string) error {
	if !h.writable {
		return contents.NewError(contents.CodeReadOnly, "filesystem '%s' is read-only", h.redacted)
	}
	if p == "" {
		return contents.NewError(contents.CodeRootImmutable, "cannot modify the root directory")
	}
	return nil
}

func (h *Handle) Create(p string) (io.WriteCloser, error) {
	if err := h.guardWrite(p); err != nil {
		return nil, err
	}
	return writefs.Create(h.fsys, fsPath(p))
}

func (h *Handle) WriteFile(p string, data []byte) error {
	fp, err := h.Create(p)
	if err != nil {
		return err
	}
	if _, err := fp.Write(data); err != nil {
		fp.Close()
		return errors.Wrapf(err, "cannot write '%s'", p)
	}
	return errors.Wrapf(fp.Close(), "cannot close '%s'", p)
}

func (h *Handle) MkDir(p string) error {
	if err := h.guardWrite(p); err != nil {
		return err
	}
	if mkfs, ok := h.fsys.(MkDirFS); ok {
		return mkfs.MkDir(fsPath(p))
	}
	if h.localDir != "" {
		return os.Mkdir(filepath.Join(h.localDir, filepath.FromSlash(p)), 0755)
	}
	return errors.Wrapf(writefs.ErrNotImplemented, "mkdir '%s'", p)
}

func (h *Handle) Remove(p string) error {
	if err := h.guardWrite(p); err != nil {
		return err
	}
	if rmfs, ok := h.fsys.(RemoveFS); ok {
		return rmfs.Remove(fsPath(p))
	}
	if h.localDir != "" {
		return os.RemoveAll(filepath.Join(h.localDir, filepath.FromSlash(p)))
	}
	return errors.Wrapf(writefs.ErrNotImplemented, "remove '%s'", p)
}

// Rename moves src to dst when the backend supports it; callers fall back
// to copy and delete on ErrNotImplemented.
func (h *Handle) Rename(src, dst string) error {
	if err := h.guardWrite(src); err != nil {
		return err
	}
	if err := h.guardWrite(dst); err != nil {
		return err
	}
	if mvfs, ok := h.fsys.(RenameFS); ok {
		return mvfs.Rename(fsPath(src), fsPath(dst))
	}
	if h.localDir != "" {
		return os.Rename(
			filepath.Join(h.localDir, filepath.FromSlash(src)),
			filepath.Join(h.localDir, filepath.FromSlash(dst)),
		)
	}
	return errors.Wrapf(writefs.ErrNotImplemented, "rename '%s' to '%s'", src, dst)
}

// Keepalive touches the backend once so that remote filesystems keep their
// session open.
func (h *Handle) Keepalive() {
	fi, err := fs.Stat(h.fsys, ".")
	if err != nil {
		h.logger.Error().Err(err).Msgf("keepalive on '%s' failed", h.redacted)
		return
	}
	h.logger.Debug().Msgf("keepalive '%s': %s", h.redacted, fi.ModTime().Format(time.RFC3339))
}

// EnableKeepalive starts or stops the periodic keepalive.
func (h *Handle) EnableKeepalive(interval time.Duration) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.kaDone != nil {
		close(h.kaDone)
		h.kaDone = nil
	}
	if interval <= 0 {
		return
	}
	h.logger.Debug().Msgf("keepalive '%s' every %s", h.redacted, interval)
	done := make(chan struct{})
	h.kaDone = done
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				h.Keepalive()
			}
		}
	}()
}

// Close stops the keepalive and releases the backend. It is idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.EnableKeepalive(0)
		if h.viaFactory {
			h.closeErr = errors.Wrapf(writefs.Close(h.fsys), "cannot close filesystem '%s'", h.redacted)
		}
		h.logger.Debug().Msgf("closed filesystem '%s'", h.redacted)
	})
	return h.closeErr
}
