package fscontents

import (
	"context"
	"io/fs"
	"strings"
	"unicode/utf8"

	"emperror.dev/errors"
	"github.com/je4/filesystem/v3/pkg/writefs"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
)

const (
	DefaultCheckpointDir      = ".ipynb_checkpoints"
	DefaultCheckpointTemplate = "{basename}-checkpoint{id}{ext}"
	checkpointID              = "0"
)

// Checkpoints implements contents.Checkpoints next to the managed files.
// Each file keeps a single checkpoint inside a sibling checkpoint
// directory.
type Checkpoints struct {
	handle   *Handle
	dir      string
	template string
	logger   zLogger.ZLogger
}

func NewCheckpoints(handle *Handle, dir, template string) *Checkpoints {
	if dir == "" {
		dir = DefaultCheckpointDir
	}
	if template == "" {
		template = DefaultCheckpointTemplate
	}
	return &Checkpoints{
		handle:   handle,
		dir:      dir,
		template: template,
		logger:   handle.logger,
	}
}

// checkpointPath returns the storage path for the checkpoint of p.
func (cp *Checkpoints) checkpointPath(checkpointID, p string) string {
	dirname, basename := contents.SplitPath(p)
	ext := contents.Ext(basename)
	name := strings.NewReplacer(
		"{basename}", strings.TrimSuffix(basename, ext),
		"{id}", checkpointID,
		"{ext}", ext,
	).Replace(cp.template)
	return contents.JoinPath(contents.JoinPath(dirname, cp.dir), name)
}

func (cp *Checkpoints) ensureCheckpointDir(cpPath string) error {
	dir := contents.DirName(cpPath)
	if err := cp.handle.MkDir(dir); err != nil && !errors.Is(err, fs.ErrExist) {
		return coded(err, dir)
	}
	return nil
}

func (cp *Checkpoints) create(content []byte, p string) (*contents.Checkpoint, error) {
	cpPath := cp.checkpointPath(checkpointID, p)
	if err := cp.ensureCheckpointDir(cpPath); err != nil {
		return nil, err
	}
	if err := cp.handle.WriteFile(cpPath, content); err != nil {
		return nil, coded(err, cpPath)
	}
	fi, err := cp.handle.Stat(cpPath)
	if err != nil {
		return nil, coded(err, cpPath)
	}
	cp.logger.Debug().Msgf("checkpoint '%s' for '%s'", cpPath, p)
	return &contents.Checkpoint{ID: checkpointID, LastModified: fi.ModTime().UTC()}, nil
}

func (cp *Checkpoints) CreateFileCheckpoint(_ context.Context, content []byte, format, path string) (*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if format == contents.FormatText && !utf8.Valid(content) {
		return nil, contents.NewError(contents.CodeBadEncoding, "'%s' is not UTF-8 encoded", p)
	}
	return cp.create(content, p)
}

func (cp *Checkpoints) CreateNotebookCheckpoint(_ context.Context, nb []byte, path string) (*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	return cp.create(nb, p)
}

func (cp *Checkpoints) get(checkpointID, p string) ([]byte, error) {
	cpPath := cp.checkpointPath(checkpointID, p)
	data, err := cp.handle.ReadFile(cpPath)
	if err != nil {
		return nil, coded(err, cpPath)
	}
	return data, nil
}

func (cp *Checkpoints) GetFileCheckpoint(_ context.Context, checkpointID, path string) (*contents.CheckpointContent, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := cp.get(checkpointID, p)
	if err != nil {
		return nil, err
	}
	format := contents.FormatText
	if !utf8.Valid(data) {
		format = contents.FormatBase64
	}
	return &contents.CheckpointContent{Type: contents.TypeFile, Format: format, Content: data}, nil
}

func (cp *Checkpoints) GetNotebookCheckpoint(_ context.Context, checkpointID, path string) (*contents.CheckpointContent, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := cp.get(checkpointID, p)
	if err != nil {
		return nil, err
	}
	return &contents.CheckpointContent{Type: contents.TypeNotebook, Format: contents.FormatJSON, Content: data}, nil
}

func (cp *Checkpoints) DeleteCheckpoint(_ context.Context, checkpointID, path string) error {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return err
	}
	cpPath := cp.checkpointPath(checkpointID, p)
	if _, err := cp.handle.Stat(cpPath); err != nil {
		return coded(err, cpPath)
	}
	return coded(cp.handle.Remove(cpPath), cpPath)
}

func (cp *Checkpoints) ListCheckpoints(_ context.Context, path string) ([]*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	cpPath := cp.checkpointPath(checkpointID, p)
	fi, err := cp.handle.Stat(cpPath)
	if err != nil {
		return []*contents.Checkpoint{}, nil
	}
	return []*contents.Checkpoint{
		{ID: checkpointID, LastModified: fi.ModTime().UTC()},
	}, nil
}

func (cp *Checkpoints) RenameAllCheckpoints(ctx context.Context, oldPath, newPath string) error {
	po, err := contents.ValidatePath(oldPath)
	if err != nil {
		return err
	}
	pn, err := contents.ValidatePath(newPath)
	if err != nil {
		return err
	}
	cps, err := cp.ListCheckpoints(ctx, po)
	if err != nil {
		return err
	}
	for _, c := range cps {
		src := cp.checkpointPath(c.ID, po)
		dst := cp.checkpointPath(c.ID, pn)
		if err := cp.ensureCheckpointDir(dst); err != nil {
			return err
		}
		if err := cp.handle.Rename(src, dst); err != nil {
			if !errors.Is(err, writefs.ErrNotImplemented) {
				return coded(err, src)
			}
			data, err := cp.handle.ReadFile(src)
			if err != nil {
				return coded(err, src)
			}
			if err := cp.handle.WriteFile(dst, data); err != nil {
				return coded(err, dst)
			}
			if err := cp.handle.Remove(src); err != nil {
				return coded(err, src)
			}
		}
	}
	return nil
}

func (cp *Checkpoints) DeleteAllCheckpoints(ctx context.Context, path string) error {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return err
	}
	cps, err := cp.ListCheckpoints(ctx, p)
	if err != nil {
		return err
	}
	for _, c := range cps {
		if err := cp.DeleteCheckpoint(ctx, c.ID, p); err != nil {
			return err
		}
	}
	return nil
}

var _ contents.Checkpoints = (*Checkpoints)(nil)
