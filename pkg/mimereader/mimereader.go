package mimereader

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"emperror.dev/errors"
)

const sniffLen = 512

// NotebookMimetype is the registered mimetype for notebook documents.
const NotebookMimetype = "application/x-ipynb+json"

// DetectReader wraps a reader and exposes the mimetype of its content,
// detected from the filename extension and the first bytes. Notebook
// documents are recognized by extension or by their nbformat marker.
type DetectReader struct {
	reader   io.Reader
	mimetype string
}

func NewDetectReader(reader io.Reader, name string) (*DetectReader, error) {
	head := make([]byte, sniffLen)
	num, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errors.Wrap(err, "cannot read detection window")
	}
	head = head[:num]
	return &DetectReader{
		reader:   io.MultiReader(bytes.NewReader(head), reader),
		mimetype: Detect(name, head),
	}, nil
}

func (dr *DetectReader) Read(p []byte) (int, error) {
	return dr.reader.Read(p)
}

func (dr *DetectReader) Mimetype() string {
	return dr.mimetype
}

// Detect returns the mimetype for a file with the given name whose
// content starts with head.
func Detect(name string, head []byte) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".ipynb" || looksLikeNotebook(head) {
		return NotebookMimetype
	}
	if ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mt, _, err := mime.ParseMediaType(byExt); err == nil {
				return mt
			}
		}
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(head))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

func looksLikeNotebook(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(trimmed, []byte(`"nbformat"`))
}
