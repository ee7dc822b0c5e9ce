package omerocontents

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/omero"
)

const (
	DefaultCheckpointPrefix = "._checkpoint{id}_"
	checkpointID            = "0"
)

// Checkpoints stores checkpoints as prefixed siblings in the same flat
// directory, there being no place for a checkpoint subdirectory.
type Checkpoints struct {
	mgr    *Manager
	prefix string
}

func NewCheckpoints(mgr *Manager, prefix string) *Checkpoints {
	if prefix == "" {
		prefix = DefaultCheckpointPrefix
	}
	return &Checkpoints{mgr: mgr, prefix: prefix}
}

// checkpointPath returns the storage path for the checkpoint of p.
func (cp *Checkpoints) checkpointPath(checkpointID, p string) string {
	dirname, name := contents.SplitPath(p)
	prefix := strings.ReplaceAll(cp.prefix, "{id}", checkpointID)
	return contents.JoinPath(dirname, prefix+name)
}

func (cp *Checkpoints) create(ctx context.Context, content []byte, p string) (*contents.Checkpoint, error) {
	cpPath := cp.checkpointPath(checkpointID, p)
	f, err := cp.mgr.saveFile(ctx, cpPath, "", content)
	if err != nil {
		return nil, err
	}
	cp.mgr.logger.Debug().Msgf("checkpoint '%s' for '%s'", cpPath, p)
	return &contents.Checkpoint{ID: checkpointID, LastModified: f.ModTime()}, nil
}

func (cp *Checkpoints) CreateFileCheckpoint(ctx context.Context, content []byte, format, path string) (*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if format == contents.FormatText && !utf8.Valid(content) {
		return nil, contents.NewError(contents.CodeBadEncoding, "'%s' is not UTF-8 encoded", p)
	}
	return cp.create(ctx, content, p)
}

func (cp *Checkpoints) CreateNotebookCheckpoint(ctx context.Context, nb []byte, path string) (*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	return cp.create(ctx, nb, p)
}

func (cp *Checkpoints) read(ctx context.Context, checkpointID, p string) ([]byte, error) {
	f, err := cp.mgr.findFile(ctx, cp.checkpointPath(checkpointID, p))
	if err != nil {
		return nil, err
	}
	return cp.mgr.client.ReadOriginalFile(ctx, f.ID)
}

func (cp *Checkpoints) GetFileCheckpoint(ctx context.Context, checkpointID, path string) (*contents.CheckpointContent, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := cp.read(ctx, checkpointID, p)
	if err != nil {
		return nil, err
	}
	format := contents.FormatText
	if !utf8.Valid(data) {
		format = contents.FormatBase64
	}
	return &contents.CheckpointContent{Type: contents.TypeFile, Format: format, Content: data}, nil
}

func (cp *Checkpoints) GetNotebookCheckpoint(ctx context.Context, checkpointID, path string) (*contents.CheckpointContent, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := cp.read(ctx, checkpointID, p)
	if err != nil {
		return nil, err
	}
	return &contents.CheckpointContent{Type: contents.TypeNotebook, Format: contents.FormatJSON, Content: data}, nil
}

func (cp *Checkpoints) DeleteCheckpoint(ctx context.Context, checkpointID, path string) error {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return err
	}
	return cp.mgr.Delete(ctx, cp.checkpointPath(checkpointID, p))
}

func (cp *Checkpoints) ListCheckpoints(ctx context.Context, path string) ([]*contents.Checkpoint, error) {
	p, err := contents.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	f, err := cp.mgr.findFile(ctx, cp.checkpointPath(checkpointID, p))
	if err != nil {
		if contents.IsCode(err, contents.CodeNotFound) {
			return []*contents.Checkpoint{}, nil
		}
		return nil, err
	}
	return []*contents.Checkpoint{
		{ID: checkpointID, LastModified: f.ModTime()},
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
		f, err := cp.mgr.findFile(ctx, src)
		if err != nil {
			return err
		}
		_, newName := contents.SplitPath(dst)
		if _, err := cp.mgr.client.UpdateOriginalFile(ctx, f.ID, &omero.FilePatch{Name: &newName}); err != nil {
			return contents.NewError(contents.CodeInternal, "cannot rename checkpoint '%s'", src).AppendDetail("%v", err)
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
