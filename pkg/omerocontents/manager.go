package omerocontents

import (
	"context"
	"encoding/json"
	"mime"
	"strings"

	"emperror.dev/errors"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/mimereader"
	"github.com/jupyfs/jupyfs/pkg/nbformat"
	"github.com/jupyfs/jupyfs/pkg/omero"
	"github.com/rs/zerolog"
)

// The namespace is flat: every stored file carries the path attribute
// storagePath, shown as the single directory jupyterDir below the root.
const (
	storagePath = "/jupyter"
	jupyterDir  = "jupyter"
)

// Manager implements contents.Manager on OriginalFile objects.
type Manager struct {
	client      *omero.Client
	allowHidden bool
	logger      zLogger.ZLogger
}

func NewManager(client *omero.Client, allowHidden bool, logger zLogger.ZLogger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{client: client, allowHidden: allowHidden, logger: logger}
}

func (m *Manager) dirExists(p string) bool {
	return p == "" || p == jupyterDir
}

// findFile resolves p to its stored object. Anything outside the jupyter
// directory does not exist.
func (m *Manager) findFile(ctx context.Context, p string) (*omero.OriginalFile, error) {
	dirname, name := contents.SplitPath(p)
	if dirname != jupyterDir || name == "" {
		return nil, contents.NewError(contents.CodeNotFound, "File %s not found", p)
	}
	f, err := m.client.FindOriginalFile(ctx, storagePath, name)
	if err != nil {
		if omero.IsNotFound(err) {
			return nil, contents.NewError(contents.CodeNotFound, "File %s not found", p)
		}
		return nil, errors.Wrapf(err, "cannot resolve '%s'", p)
	}
	return f, nil
}

// mimetype prefers the stored value and falls back to an extension guess.
func (m *Manager) mimetype(f *omero.OriginalFile) *string {
	if f.Mimetype != "" {
		return contents.Ptr(f.Mimetype)
	}
	guessed := mime.TypeByExtension(contents.Ext(f.Name))
	if idx := strings.Index(guessed, ";"); idx >= 0 {
		guessed = guessed[:idx]
	}
	if guessed == "" {
		return nil
	}
	return contents.Ptr(guessed)
}

func (m *Manager) fileModel(ctx context.Context, f *omero.OriginalFile, withContent bool, format, typ string) (*contents.Model, error) {
	model := contents.NewModel(jupyterDir, f.Name)
	model.Type = typ
	model.Created = f.ModTime()
	model.LastModified = f.ModTime()
	model.Size = contents.Ptr(f.Size)
	if withContent {
		data, err := m.client.ReadOriginalFile(ctx, f.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read '%s'", model.Path)
		}
		if err := contents.EncodeContent(model, data, format); err != nil {
			return nil, err
		}
		model.Mimetype = m.mimetype(f)
	}
	return model, nil
}

func (m *Manager) Get(ctx context.Context, path string, opts contents.GetOptions) (*contents.Model, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("get '%s' type=%s content=%v", p, opts.Type, opts.Content)
	typ := opts.Type
	if typ == "" {
		typ = contents.GuessType(p, m.dirExists(p))
	}
	switch typ {
	case contents.TypeNotebook:
		return m.getNotebook(ctx, p, opts.Content)
	case contents.TypeDirectory:
		return m.getDirectory(ctx, p, opts.Content)
	case contents.TypeFile:
		return m.getFile(ctx, p, opts.Content, opts.Format)
	default:
		return nil, contents.NewError(contents.CodeBadType, "unknown type '%s'", typ)
	}
}

func (m *Manager) getFile(ctx context.Context, p string, withContent bool, format string) (*contents.Model, error) {
	f, err := m.findFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return m.fileModel(ctx, f, withContent, format, contents.TypeFile)
}

func (m *Manager) getNotebook(ctx context.Context, p string, withContent bool) (*contents.Model, error) {
	f, err := m.findFile(ctx, p)
	if err != nil {
		return nil, err
	}
	model, err := m.fileModel(ctx, f, false, "", contents.TypeNotebook)
	if err != nil {
		return nil, err
	}
	if withContent {
		data, err := m.client.ReadOriginalFile(ctx, f.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read '%s'", model.Path)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, contents.NewError(contents.CodeBadFormat, "notebook '%s' is not valid JSON", p).AppendDetail("%v", err)
		}
		model.Content = doc
		model.Format = contents.Ptr(contents.FormatJSON)
		model.Mimetype = m.mimetype(f)
		if err := nbformat.ValidateObject(doc); err != nil {
			model.Message = err.Error()
		}
	}
	return model, nil
}

func (m *Manager) getDirectory(ctx context.Context, p string, withContent bool) (*contents.Model, error) {
	if !m.dirExists(p) {
		return nil, contents.NewError(contents.CodeNotFound, "Directory %s not found", p)
	}
	dirname, name := contents.SplitPath(p)
	model := contents.NewModel(dirname, name)
	model.Type = contents.TypeDirectory
	model.Format = contents.Ptr(contents.FormatJSON)
	if !withContent {
		return model, nil
	}
	if p == "" {
		jupyter, err := m.getDirectory(ctx, jupyterDir, false)
		if err != nil {
			return nil, err
		}
		model.Content = []*contents.Model{jupyter}
		return model, nil
	}
	files, err := m.client.ListOriginalFiles(ctx, storagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list '%s'", storagePath)
	}
	children := []*contents.Model{}
	for _, f := range files {
		if !m.allowHidden && contents.IsHiddenName(f.Name) {
			continue
		}
		child, err := m.fileModel(ctx, f, false, "", contents.GuessType(f.Name, false))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	model.Content = children
	return model, nil
}

func (m *Manager) Save(ctx context.Context, model *contents.IncomingModel, path string) (*contents.Model, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	m.logger.Debug().Msgf("save '%s' type=%s", p, model.Type)
	var data []byte
	var message string
	switch model.Type {
	case "":
		return nil, contents.NewError(contents.CodeBadType, "No model type provided")
	case contents.TypeDirectory:
		return nil, contents.NewError(contents.CodeBadType, "Saving directories not supported")
	case contents.TypeNotebook:
		if data, err = model.NotebookBytes(); err != nil {
			return nil, err
		}
		if err := nbformat.Validate(data); err != nil {
			message = err.Error()
		}
	case contents.TypeFile:
		if data, err = model.ContentBytes(); err != nil {
			return nil, err
		}
	default:
		return nil, contents.NewError(contents.CodeBadType, "unknown type '%s'", model.Type)
	}
	mimetype := model.Mimetype
	if mimetype == "" {
		mimetype = mimereader.Detect(p, data)
	}
	f, err := m.saveFile(ctx, p, mimetype, data)
	if err != nil {
		return nil, err
	}
	saved, err := m.fileModel(ctx, f, false, "", model.Type)
	if err != nil {
		return nil, err
	}
	saved.Message = message
	return saved, nil
}

func (m *Manager) saveFile(ctx context.Context, p, mimetype string, data []byte) (*omero.OriginalFile, error) {
	dirname, name := contents.SplitPath(p)
	if dirname != jupyterDir || name == "" {
		return nil, contents.NewError(contents.CodeBadLocation, "Directory must be %s", storagePath)
	}
	f, err := m.client.Upload(ctx, storagePath, name, mimetype, data)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot store '%s'", p)
	}
	return f, nil
}

func (m *Manager) Delete(ctx context.Context, path string) error {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return err
	}
	m.logger.Debug().Msgf("delete '%s'", p)
	f, err := m.findFile(ctx, p)
	if err != nil {
		return err
	}
	if err := m.client.DeleteOriginalFile(ctx, f.ID); err != nil {
		return errors.Wrapf(err, "cannot delete '%s'", p)
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
	oldDir, _ := contents.SplitPath(po)
	newDir, newName := contents.SplitPath(pn)
	if oldDir != jupyterDir || newDir != jupyterDir || newName == "" {
		return nil, contents.NewError(contents.CodeBadLocation, "Directory must be %s", storagePath)
	}
	if _, err := m.findFile(ctx, pn); err == nil {
		return nil, contents.NewError(contents.CodeTargetExists, "File %s exists, please delete first", pn)
	} else if !contents.IsCode(err, contents.CodeNotFound) {
		return nil, err
	}
	f, err := m.findFile(ctx, po)
	if err != nil {
		return nil, err
	}
	updated, err := m.client.UpdateOriginalFile(ctx, f.ID, &omero.FilePatch{Name: &newName})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot rename '%s'", po)
	}
	return m.fileModel(ctx, updated, false, "", contents.GuessType(pn, false))
}

func (m *Manager) FileExists(ctx context.Context, path string) (bool, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false, err
	}
	if _, err := m.findFile(ctx, p); err != nil {
		if contents.IsCode(err, contents.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) DirExists(_ context.Context, path string) (bool, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false, err
	}
	return m.dirExists(p), nil
}

func (m *Manager) IsHidden(path string) bool {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return false
	}
	return contents.IsHiddenName(contents.BaseName(p))
}

func (m *Manager) Close() error {
	return m.client.Close()
}

var _ contents.Manager = (*Manager)(nil)
