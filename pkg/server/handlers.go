package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/nbformat"
)

// contentsRef is a parsed contents wildcard. The checkpoint routes live
// inside the same wildcard, so the trailing segments disambiguate them.
type contentsRef struct {
	path         string
	checkpoints  bool
	checkpointID string
	restore      bool
}

func (s *Server) parseRef(c *gin.Context) (*contentsRef, bool) {
	raw, err := url.PathUnescape(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "cannot unescape path"})
		return nil, false
	}
	var segments []string
	for _, segment := range strings.Split(strings.Trim(raw, "/"), "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	ref := &contentsRef{}
	switch {
	case len(segments) >= 3 && segments[len(segments)-1] == "restore" && segments[len(segments)-3] == "checkpoints":
		ref.checkpoints = true
		ref.restore = true
		ref.checkpointID = segments[len(segments)-2]
		segments = segments[:len(segments)-3]
	case len(segments) >= 2 && segments[len(segments)-2] == "checkpoints":
		ref.checkpoints = true
		ref.checkpointID = segments[len(segments)-1]
		segments = segments[:len(segments)-2]
	case len(segments) >= 1 && segments[len(segments)-1] == "checkpoints":
		ref.checkpoints = true
		segments = segments[:len(segments)-1]
	}
	p, err := contents.ValidatePath(strings.Join(segments, "/"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	ref.path = p
	return ref, true
}

// hiddenBarred hides dotted paths from clients unless the server allows them.
func (s *Server) hiddenBarred(c *gin.Context, p string) bool {
	if s.service.AllowHidden || !s.service.Manager.IsHidden(p) {
		return false
	}
	s.writeError(c, contents.NewError(contents.CodeNotFound, "no such entity: '%s'", p))
	return true
}

func (s *Server) methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"message": "method not allowed"})
}

func (s *Server) getContents(c *gin.Context) {
	ref, ok := s.parseRef(c)
	if !ok {
		return
	}
	if s.hiddenBarred(c, ref.path) {
		return
	}
	ctx := c.Request.Context()
	if ref.checkpoints {
		if ref.checkpointID != "" {
			s.methodNotAllowed(c)
			return
		}
		list, err := s.service.Checkpoints.ListCheckpoints(ctx, ref.path)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
		return
	}
	opts := contents.GetOptions{
		Content: c.DefaultQuery("content", "1") == "1",
		Type:    c.Query("type"),
		Format:  c.Query("format"),
	}
	model, err := s.service.Manager.Get(ctx, ref.path, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

type postBody struct {
	CopyFrom string `json:"copy_from"`
	Type     string `json:"type"`
	Ext      string `json:"ext"`
}

func (s *Server) postContents(c *gin.Context) {
	ref, ok := s.parseRef(c)
	if !ok {
		return
	}
	if s.hiddenBarred(c, ref.path) {
		return
	}
	if ref.checkpoints {
		if ref.restore {
			s.restoreCheckpoint(c, ref)
			return
		}
		if ref.checkpointID != "" {
			s.methodNotAllowed(c)
			return
		}
		s.createCheckpoint(c, ref.path)
		return
	}
	var body postBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "request body is not valid JSON"})
			return
		}
	}
	if body.CopyFrom != "" {
		s.copyInto(c, ref.path, body.CopyFrom)
		return
	}
	s.createUntitled(c, ref.path, body.Type, body.Ext)
}

// freeName returns the first unoccupied name of the form base+insert+i+ext
// below dir, starting with the plain base+ext.
func (s *Server) freeName(ctx context.Context, dir, base, insert, ext string) (string, error) {
	for i := 0; ; i++ {
		suffix := ""
		if i > 0 {
			suffix = fmt.Sprintf("%s%d", insert, i)
		}
		p := contents.JoinPath(dir, base+suffix+ext)
		fileExists, err := s.service.Manager.FileExists(ctx, p)
		if err != nil {
			return "", err
		}
		dirExists, err := s.service.Manager.DirExists(ctx, p)
		if err != nil {
			return "", err
		}
		if !fileExists && !dirExists {
			return p, nil
		}
	}
}

func (s *Server) createUntitled(c *gin.Context, dir, typ, ext string) {
	ctx := c.Request.Context()
	exists, err := s.service.Manager.DirExists(ctx, dir)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !exists {
		s.writeError(c, contents.NewError(contents.CodeNotFound, "No such directory: %s", dir))
		return
	}
	if typ == "" {
		if ext == contents.NotebookExt {
			typ = contents.TypeNotebook
		} else {
			typ = contents.TypeFile
		}
	}
	var base string
	switch typ {
	case contents.TypeNotebook:
		base = "Untitled"
		if ext == "" {
			ext = contents.NotebookExt
		}
	case contents.TypeFile:
		base = "untitled"
	case contents.TypeDirectory:
		base = "Untitled Folder"
		ext = ""
	default:
		s.writeError(c, contents.NewError(contents.CodeBadType, "unknown type '%s'", typ))
		return
	}
	target, err := s.freeName(ctx, dir, base, "", ext)
	if err != nil {
		s.writeError(c, err)
		return
	}
	incoming := &contents.IncomingModel{Type: typ}
	switch typ {
	case contents.TypeNotebook:
		raw, err := json.Marshal(nbformat.Empty())
		if err != nil {
			s.writeError(c, errors.Wrap(err, "cannot serialize notebook"))
			return
		}
		incoming.Content = raw
	case contents.TypeFile:
		incoming.Content = json.RawMessage(`""`)
		incoming.Format = contents.FormatText
	}
	model, err := s.service.Manager.Save(ctx, incoming, target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", s.contentsURL(model.Path))
	c.JSON(http.StatusCreated, model)
}

func (s *Server) copyInto(c *gin.Context, dir, copyFrom string) {
	ctx := c.Request.Context()
	src, err := contents.ValidatePath(copyFrom)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.hiddenBarred(c, src) {
		return
	}
	model, err := s.service.Manager.Get(ctx, src, contents.GetOptions{Content: true})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if model.Type == contents.TypeDirectory {
		s.writeError(c, contents.NewError(contents.CodeBadType, "Can't copy directories"))
		return
	}
	ext := contents.Ext(model.Name)
	base := strings.TrimSuffix(model.Name, ext)
	target, err := s.freeName(ctx, dir, base, "-Copy", ext)
	if err != nil {
		s.writeError(c, err)
		return
	}
	raw, err := json.Marshal(model.Content)
	if err != nil {
		s.writeError(c, errors.Wrapf(err, "cannot serialize content of %s", src))
		return
	}
	incoming := &contents.IncomingModel{Type: model.Type, Content: raw}
	if model.Format != nil {
		incoming.Format = *model.Format
	}
	if model.Mimetype != nil {
		incoming.Mimetype = *model.Mimetype
	}
	saved, err := s.service.Manager.Save(ctx, incoming, target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", s.contentsURL(saved.Path))
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) putContents(c *gin.Context) {
	ref, ok := s.parseRef(c)
	if !ok {
		return
	}
	if ref.checkpoints {
		s.methodNotAllowed(c)
		return
	}
	if s.hiddenBarred(c, ref.path) {
		return
	}
	ctx := c.Request.Context()
	var incoming contents.IncomingModel
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "request body is not valid JSON"})
		return
	}
	existed, err := s.service.Manager.FileExists(ctx, ref.path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if existed && incoming.Type == contents.TypeNotebook && s.service.Checkpoints != nil {
		if err := s.checkpointCurrent(ctx, ref.path); err != nil {
			s.log.Warn().Err(err).Msgf("cannot checkpoint %s before save", ref.path)
		}
	}
	model, err := s.service.Manager.Save(ctx, &incoming, ref.path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	c.JSON(status, model)
}

// checkpointCurrent snapshots the stored state of a notebook so a save
// never loses the previous revision.
func (s *Server) checkpointCurrent(ctx context.Context, p string) error {
	model, err := s.service.Manager.Get(ctx, p, contents.GetOptions{Content: true, Type: contents.TypeNotebook})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(model.Content)
	if err != nil {
		return errors.Wrap(err, "cannot serialize notebook")
	}
	_, err = s.service.Checkpoints.CreateNotebookCheckpoint(ctx, raw, p)
	return err
}

type patchBody struct {
	Path string `json:"path"`
}

func (s *Server) patchContents(c *gin.Context) {
	ref, ok := s.parseRef(c)
	if !ok {
		return
	}
	if ref.checkpoints {
		s.methodNotAllowed(c)
		return
	}
	var body patchBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "rename needs a new path"})
		return
	}
	newPath, err := contents.ValidatePath(body.Path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.hiddenBarred(c, ref.path) || s.hiddenBarred(c, newPath) {
		return
	}
	ctx := c.Request.Context()
	model, err := s.service.Manager.Rename(ctx, ref.path, newPath)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.service.Checkpoints != nil {
		if err := s.service.Checkpoints.RenameAllCheckpoints(ctx, ref.path, newPath); err != nil {
			s.log.Warn().Err(err).Msgf("cannot move checkpoints of %s", ref.path)
		}
	}
	c.JSON(http.StatusOK, model)
}

func (s *Server) deleteContents(c *gin.Context) {
	ref, ok := s.parseRef(c)
	if !ok {
		return
	}
	if s.hiddenBarred(c, ref.path) {
		return
	}
	ctx := c.Request.Context()
	if ref.checkpoints {
		if ref.checkpointID == "" {
			s.methodNotAllowed(c)
			return
		}
		if err := s.service.Checkpoints.DeleteCheckpoint(ctx, ref.checkpointID, ref.path); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}
	if s.service.Checkpoints != nil {
		if err := s.service.Checkpoints.DeleteAllCheckpoints(ctx, ref.path); err != nil {
			s.log.Warn().Err(err).Msgf("cannot drop checkpoints of %s", ref.path)
		}
	}
	if err := s.service.Manager.Delete(ctx, ref.path); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createCheckpoint(c *gin.Context, p string) {
	ctx := c.Request.Context()
	model, err := s.service.Manager.Get(ctx, p, contents.GetOptions{Content: true})
	if err != nil {
		s.writeError(c, err)
		return
	}
	var cp *contents.Checkpoint
	switch model.Type {
	case contents.TypeNotebook:
		var raw []byte
		if raw, err = json.Marshal(model.Content); err != nil {
			s.writeError(c, errors.Wrap(err, "cannot serialize notebook"))
			return
		}
		cp, err = s.service.Checkpoints.CreateNotebookCheckpoint(ctx, raw, p)
	case contents.TypeFile:
		text, _ := model.Content.(string)
		format := ""
		if model.Format != nil {
			format = *model.Format
		}
		data := []byte(text)
		if format == contents.FormatBase64 {
			if data, err = base64.StdEncoding.DecodeString(text); err != nil {
				s.writeError(c, errors.Wrapf(err, "cannot decode content of %s", p))
				return
			}
		}
		cp, err = s.service.Checkpoints.CreateFileCheckpoint(ctx, data, format, p)
	default:
		err = contents.NewError(contents.CodeBadType, "directories have no checkpoints")
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (s *Server) restoreCheckpoint(c *gin.Context, ref *contentsRef) {
	ctx := c.Request.Context()
	incoming := &contents.IncomingModel{Type: contents.GuessType(ref.path, false)}
	if incoming.Type == contents.TypeNotebook {
		cp, err := s.service.Checkpoints.GetNotebookCheckpoint(ctx, ref.checkpointID, ref.path)
		if err != nil {
			s.writeError(c, err)
			return
		}
		incoming.Content = json.RawMessage(cp.Content)
	} else {
		cp, err := s.service.Checkpoints.GetFileCheckpoint(ctx, ref.checkpointID, ref.path)
		if err != nil {
			s.writeError(c, err)
			return
		}
		incoming.Format = cp.Format
		text := string(cp.Content)
		if cp.Format == contents.FormatBase64 {
			text = base64.StdEncoding.EncodeToString(cp.Content)
		}
		raw, err := json.Marshal(text)
		if err != nil {
			s.writeError(c, errors.Wrapf(err, "cannot serialize content of %s", ref.path))
			return
		}
		incoming.Content = raw
	}
	if _, err := s.service.Manager.Save(ctx, incoming, ref.path); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
