package fscontents

import (
	"context"
	"encoding/json"
	"io/fs"
	"time"

	"emperror.dev/errors"
	"github.com/je4/filesystem/v3/pkg/writefs"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/nbformat"
)

// Manager implements contents.Manager over a Handle.
type Manager struct {
	handle      *Handle
	allowHidden bool
	logger      zLogger.ZLogger
}

func NewManager(handle *Handle, allowHidden bool) *Manager {
	return &Manager{
		handle:      handle,
		allowHidden: allowHidden,
		logger:      handle.logger,
	}
}

// coded translates backend filesystem errors into contents errors.
func coded(err error, p string) error {
	switch {
	case err == nil:
		return nil
	case contents.StatusCode(err) != 500:
		return err
	case errors.Is(err, fs.ErrNotExist):
		return contents.NewError(contents.CodeNotFound, "no such entity: '%s'", p)
	case errors.Is(err, fs.ErrExist):
		return contents.NewError(contents.CodeExists, "'%s' already exists", p)
	case errors.Is(err, writefs.ErrNotImplemented):
		return contents.NewError(contents.CodeReadOnly, "filesystem does not support writing '%s'", p)
	case errors.Is(err, fs.ErrPermission):
		return contents.NewError(contents.CodeReadOnly, "'%s' is not writable", p)
	default:
		return err
	}
}

// statTimes extracts modification and, when the backend tracks it, creation
// time from a FileInfo.
func statTimes(fi fs.FileInfo) (time.Time, time.Time) {
	var created time.Time
	if ct, ok := fi.Sys().(time.Time); ok {
		created = ct
	}
	return contents.CreatedModified(created, fi.ModTime())
}

func (m *Manager) checkVisible(p string) error {
	if !m.allowHidden && contents.HiddenPath(p) {
		return contents.NewError(contents.CodeNotFound, "no such entity: '%s'", p)
	}
	return nil
}

func (m *Manager) Get(_ context.Context, path string, opts contents.GetOptions) (*contents.Model, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("get '%s' type=%s content=%v", p, opts.Type, opts.Content)
	if err := m.checkVisible(p); err != nil {
		return nil, err
	}
	typ := opts.Type
	if typ == "" {
		typ = contents.GuessType(p, m.dirExists(p))
	}
	switch typ {
	case contents.TypeNotebook:
		return m.getNotebook(p, opts.Content)
	case contents.TypeDirectory:
		return m.getDirectory(p, opts.Content)
	case contents.TypeFile:
		return m.getFile(p, opts.Content, opts.Format, contents.TypeFile)
	default:
		return nil, contents.NewError(contents.CodeBadType, "unknown type '%s'", typ)
	}
}

func (m *Manager) dirExists(p string) bool {
	fi, err := m.handle.Stat(p)
	return err == nil && fi.IsDir()
}

func (m *Manager) getFile(p string, withContent bool, format, typ string) (*contents.Model, error) {
	fi, err := m.handle.Stat(p)
	if err != nil {
		return nil, coded(err, p)
	}
	if fi.IsDir() {
		return nil, contents.NewError(contents.CodeBadType, "'%s' is a directory, not a file", p)
	}
	dirname, name := contents.SplitPath(p)
	model := contents.NewModel(dirname, name)
	model.Type = typ
	model.Writable = m.handle.Writable()
	model.Size = contents.Ptr(fi.Size())
	model.Created, model.LastModified = statTimes(fi)
	if withContent {
		data, err := m.handle.ReadFile(p)
		if err != nil {
			return nil, coded(err, p)
		}
		if err := contents.EncodeContent(model, data, format); err != nil {
			return nil, err
		}
	}
	return model, nil
}

func (m *Manager) getNotebook(p string, withContent bool) (*contents.Model, error) {
	model, err := m.getFile(p, false, "", contents.TypeNotebook)
	if err != nil {
		return nil, err
	}
	if withContent {
		data, err := m.handle.ReadFile(p)
		if err != nil {
			return nil, coded(err, p)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, contents.NewError(contents.CodeBadFormat, "notebook '%s' is not valid JSON", p).AppendDetail("%v", err)
		}
		model.Content = doc
		model.Format = contents.Ptr(contents.FormatJSON)
		if err := nbformat.ValidateObject(doc); err != nil {
			model.Message = err.Error()
		}
	}
	return model, nil
}

func (m *Manager) getDirectory(p string, withContent bool) (*contents.Model, error) {
	fi, err := m.handle.Stat(p)
	if err != nil {
		return nil, coded(err, p)
	}
	if !fi.IsDir() {
		return nil, contents.NewError(contents.CodeNotADirectory, "'%s' not a directory", p)
	}
	dirname, name := contents.SplitPath(p)
	model := contents.NewModel(dirname, name)
	model.Type = contents.TypeDirectory
	model.Writable = m.handle.Writable()
	model.Created, model.LastModified = statTimes(fi)
	if withContent {
		entries, err := m.handle.ReadDir(p)
		if err != nil {
			return nil, coded(err, p)
		}
		children := []*contents.Model{}
		for _, entry := range entries {
			if !m.allowHidden && contents.IsHiddenName(entry.Name()) {
				continue
			}
			childPath := contents.JoinPath(p, entry.Name())
			var child *contents.Model
			if entry.IsDir() {
				child, err = m.getDirectory(childPath, false)
			} else {
				child, err = m.getFile(childPath, false, "", contents.GuessType(childPath, false))
			}
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		model.Content = children
		model.Format = contents.Ptr(contents.FormatJSON)
	}
	return model, nil
}

func (m *Manager) Save(ctx context.Context, model *contents.IncomingModel, path string) (*contents.Model, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("save '%s' type=%s", p, model.Type)
	if err := m.checkVisible(p); err != nil {
		return nil, err
	}
	var message string
	switch model.Type {
	case "":
		return nil, contents.NewError(contents.CodeBadType, "no file type provided")
	case contents.TypeNotebook:
		data, err := model.NotebookBytes()
		if err != nil {
			return nil, err
		}
		if err := nbformat.Validate(data); err != nil {
			message = err.Error()
		}
		if err := m.handle.WriteFile(p, data); err != nil {
			return nil, coded(err, p)
		}
	case contents.TypeFile:
		data, err := model.ContentBytes()
		if err != nil {
			return nil, err
		}
		if err := m.handle.WriteFile(p, data); err != nil {
			return nil, coded(err, p)
		}
	case contents.TypeDirectory:
		if err := m.handle.MkDir(p); err != nil {
			return nil, coded(err, p)
		}
	default:
		return nil, contents.NewError(contents.CodeBadType, "unknown type '%s'", model.Type)
	}
	saved, err := m.Get(ctx, p, contents.GetOptions{Content: false, Type: model.Type})
	if err != nil {
		return nil, err
	}
	saved.Message = message
	return saved, nil
}

func (m *Manager) Delete(_ context.Context, path string) error {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return err
	}
	m.logger.Debug().Msgf("delete '%s'", p)
	if contents.IsRoot(p) {
		return contents.NewError(contents.CodeRootImmutable, "cannot delete the root directory")
	}
	if err := m.checkVisible(p); err != nil {
		return err
	}
	fi, err := m.handle.Stat(p)
	if err != nil {
		return coded(err, p)
	}
	if fi.IsDir() {
		return m.removeTree(p)
	}
	return coded(m.handle.Remove(p), p)
}

func (m *Manager) removeTree(p string) error {
	entries, err := m.handle.ReadDir(p)
	if err != nil {
		return coded(err, p)
	}
	for _, entry := range entries {
		childPath := contents.JoinPath(p, entry.Name())
		if entry.IsDir() {
			if err := m.removeTree(childPath); err != nil {
				return err
			}
			continue
		}
		if err := m.handle.Remove(childPath); err != nil {
			return coded(err, childPath)
		}
	}
	if err := m.handle.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return coded(err, p)
	}
	return nil
}

func (m *Manager) Rename(ctx context.Context, oldPath, newPath string) (*contents.Model, error) {
	po, err := contents.ValidatePath(oldPath)
	if err != nil {
		return nil, err
	}
	pn, err := contents.ValidatePath(newPath)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("rename '%s' to '%s'", po, pn)
	if contents.IsRoot(po) || contents.IsRoot(pn) {
		return nil, contents.NewError(contents.CodeRootImmutable, "can't rename root")
	}
	if err := m.checkVisible(po); err != nil {
		return nil, err
	}
	if err := m.checkVisible(pn); err != nil {
		return nil, err
	}
	if po == pn {
		return m.Get(ctx, pn, contents.GetOptions{Content: false})
	}
	if _, err := m.handle.Stat(pn); err == nil {
		return nil, contents.NewError(contents.CodeExists, "'%s' already exists", pn)
	}
	fi, err := m.handle.Stat(po)
	if err != nil {
		return nil, coded(err, po)
	}
	if err := m.handle.Rename(po, pn); err != nil {
		if !errors.Is(err, writefs.ErrNotImplemented) {
			return nil, coded(err, po)
		}
		if err := m.copyTree(po, pn, fi.IsDir()); err != nil {
			return nil, err
		}
		if fi.IsDir() {
			if err := m.removeTree(po); err != nil {
				return nil, err
			}
		} else if err := m.handle.Remove(po); err != nil {
			return nil, coded(err, po)
		}
	}
	return m.Get(ctx, pn, contents.GetOptions{Content: false})
}

// copyTree duplicates src at dst for backends without a native rename.
func (m *Manager) copyTree(src, dst string, isDir bool) error {
	if !isDir {
		data, err := m.handle.ReadFile(src)
		if err != nil {
			return coded(err, src)
		}
		return coded(m.handle.WriteFile(dst, data), dst)
	}
	if err := m.handle.MkDir(dst); err != nil && !errors.Is(err, fs.ErrExist) {
		return coded(err, dst)
	}
	entries, err := m.handle.ReadDir(src)
	if err != nil {
		return coded(err, src)
	}
	for _, entry := range entries {
		if err := m.copyTree(
			contents.JoinPath(src, entry.Name()),
			contents.JoinPath(dst, entry.Name()),
			entry.IsDir(),
		); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) FileExists(_ context.Context, path string) (bool, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false, err
	}
	fi, err := m.handle.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, coded(err, p)
	}
	return !fi.IsDir(), nil
}

func (m *Manager) DirExists(_ context.Context, path string) (bool, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false, err
	}
	fi, err := m.handle.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, coded(err, p)
	}
	return fi.IsDir(), nil
}

func (m *Manager) IsHidden(path string) bool {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false
	}
	return contents.IsHiddenName(contents.BaseName(p))
}

func (m *Manager) Close() error {
	return m.handle.Close()
}

var _ contents.Manager = (*Manager)(nil)
