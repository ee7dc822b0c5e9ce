// Package contents defines the Jupyter contents model and the contracts
// every storage backend implements.
package contents

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"emperror.dev/errors"
)

const (
	TypeNotebook  = "notebook"
	TypeDirectory = "directory"
	TypeFile      = "file"
)

const (
	FormatText   = "text"
	FormatBase64 = "base64"
	FormatJSON   = "json"
)

const NotebookExt = ".ipynb"

// DefaultCreated is used when a backend tracks neither creation nor
// modification time.
var DefaultCreated = time.Unix(0, 0).UTC()

// Model is one entry of the contents API. Content is nil, a string
// (text/base64), a decoded JSON object (notebook) or []*Model (directory).
type Model struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	Writable     bool      `json:"writable"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"last_modified"`
	Mimetype     *string   `json:"mimetype"`
	Content      any       `json:"content"`
	Format       *string   `json:"format"`
	Size         *int64    `json:"size"`
	Message      string    `json:"message,omitempty"`
}

// Checkpoint identifies one saved state of a file.
type Checkpoint struct {
	ID           string    `json:"id"`
	LastModified time.Time `json:"last_modified"`
}

// CheckpointContent carries the raw bytes of a stored checkpoint.
type CheckpointContent struct {
	Type    string
	Format  string
	Content []byte
}

// Ptr returns a pointer to v for the nullable model fields.
func Ptr[T any](v T) *T {
	return &v
}

// NewModel returns a content-less model for name below dirname with both
// timestamps at their default.
func NewModel(dirname, name string) *Model {
	return &Model{
		Name:         name,
		Path:         JoinPath(dirname, name),
		Writable:     true,
		Created:      DefaultCreated,
		LastModified: DefaultCreated,
	}
}

// CreatedModified applies the fallback chain for backends that track only
// one of the two timestamps.
func CreatedModified(created, modified time.Time) (time.Time, time.Time) {
	c, m := created, modified
	if c.IsZero() {
		c = modified
	}
	if c.IsZero() {
		c = DefaultCreated
	}
	if m.IsZero() {
		m = created
	}
	if m.IsZero() {
		m = DefaultCreated
	}
	return c.UTC(), m.UTC()
}

// GuessType returns the model type implied by a path. Pass dirExists=false
// to rule out directories.
func GuessType(path string, dirExists bool) string {
	if strings.HasSuffix(path, NotebookExt) {
		return TypeNotebook
	}
	if dirExists {
		return TypeDirectory
	}
	return TypeFile
}

// EncodeContent fills Content, Format and Mimetype of a file model from raw
// bytes. An empty requested format picks text for valid UTF-8 and base64
// otherwise; an explicit text format fails on non-UTF-8 bytes.
func EncodeContent(model *Model, data []byte, format string) error {
	switch format {
	case FormatText:
		if !utf8.Valid(data) {
			return NewError(CodeBadEncoding, "'%s' is not UTF-8 encoded", model.Path)
		}
		model.Content = string(data)
		model.Format = Ptr(FormatText)
		model.Mimetype = Ptr("text/plain")
	case FormatBase64:
		model.Content = base64.StdEncoding.EncodeToString(data)
		model.Format = Ptr(FormatBase64)
		model.Mimetype = Ptr("application/octet-stream")
	case "":
		if utf8.Valid(data) {
			return EncodeContent(model, data, FormatText)
		}
		return EncodeContent(model, data, FormatBase64)
	default:
		return NewError(CodeBadFormat, "unknown format '%s'", format)
	}
	return nil
}

// GetOptions controls a Get call. Empty Type and Format mean "infer".
type GetOptions struct {
	Content bool
	Type    string
	Format  string
}

// IncomingModel is the client-supplied body of a save.
type IncomingModel struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Type     string          `json:"type"`
	Format   string          `json:"format"`
	Mimetype string          `json:"mimetype"`
	Content  json.RawMessage `json:"content"`
}

// HasContent reports whether the save body carries content.
func (im *IncomingModel) HasContent() bool {
	return len(im.Content) > 0 && string(im.Content) != "null"
}

// ContentBytes decodes the content per the model format. Only text and
// base64 are legal for plain files.
func (im *IncomingModel) ContentBytes() ([]byte, error) {
	if !im.HasContent() {
		return nil, NewError(CodeNoContent, "no file content provided")
	}
	var str string
	if err := json.Unmarshal(im.Content, &str); err != nil {
		return nil, NewError(CodeBadFormat, "file content must be a string")
	}
	switch im.Format {
	case FormatText:
		return []byte(str), nil
	case FormatBase64:
		data, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return nil, NewError(CodeBadEncoding, "content is not valid base64").AppendDetail("%v", err)
		}
		return data, nil
	default:
		return nil, NewError(CodeBadFormat, "must specify format of file contents as 'text' or 'base64'")
	}
}

// NotebookBytes returns the notebook content as canonical JSON.
func (im *IncomingModel) NotebookBytes() ([]byte, error) {
	if !im.HasContent() {
		return nil, NewError(CodeNoContent, "no notebook content provided")
	}
	var obj map[string]any
	if err := json.Unmarshal(im.Content, &obj); err != nil {
		return nil, NewError(CodeBadFormat, "notebook content is not a JSON object").AppendDetail("%v", err)
	}
	data, err := json.MarshalIndent(obj, "", " ")
	if err != nil {
		return nil, errors.Wrap(err, "cannot serialize notebook")
	}
	return data, nil
}

// Manager is the contents contract every backend implements.
type Manager interface {
	Get(ctx context.Context, path string, opts GetOptions) (*Model, error)
	Save(ctx context.Context, model *IncomingModel, path string) (*Model, error)
	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) (*Model, error)
	FileExists(ctx context.Context, path string) (bool, error)
	DirExists(ctx context.Context, path string) (bool, error)
	IsHidden(path string) bool
	Close() error
}

// Checkpoints stores and restores per-file snapshots. Implementations keep
// a single checkpoint per file under the id "0".
type Checkpoints interface {
	CreateFileCheckpoint(ctx context.Context, content []byte, format, path string) (*Checkpoint, error)
	CreateNotebookCheckpoint(ctx context.Context, nb []byte, path string) (*Checkpoint, error)
	GetFileCheckpoint(ctx context.Context, checkpointID, path string) (*CheckpointContent, error)
	GetNotebookCheckpoint(ctx context.Context, checkpointID, path string) (*CheckpointContent, error)
	DeleteCheckpoint(ctx context.Context, checkpointID, path string) error
	ListCheckpoints(ctx context.Context, path string) ([]*Checkpoint, error)
	RenameAllCheckpoints(ctx context.Context, oldPath, newPath string) error
	DeleteAllCheckpoints(ctx context.Context, path string) error
}
