package omero

import (
	"fmt"
	"time"
)

// OriginalFile is a stored file object as returned by the JSON API. Mtime
// is epoch milliseconds on the wire.
type OriginalFile struct {
	ID       int64  `json:"@id"`
	Name     string `json:"Name"`
	Path     string `json:"Path"`
	Size     int64  `json:"Size"`
	Mimetype string `json:"Mimetype,omitempty"`
	Hash     string `json:"Hash,omitempty"`
	HashAlgo string `json:"HashAlgo,omitempty"`
	Mtime    int64  `json:"Mtime"`
}

func (f *OriginalFile) ModTime() time.Time {
	return time.UnixMilli(f.Mtime).UTC()
}

// FilePatch carries the mutable OriginalFile fields for an update. Nil
// fields stay untouched on the server.
type FilePatch struct {
	Name     *string `json:"Name,omitempty"`
	Path     *string `json:"Path,omitempty"`
	Mimetype *string `json:"Mimetype,omitempty"`
}

// EventContext describes the session returned by a login.
type EventContext struct {
	SessionUUID string `json:"sessionUuid"`
	UserID      int64  `json:"userId"`
	UserName    string `json:"userName"`
	GroupID     int64  `json:"groupId"`
	GroupName   string `json:"groupName"`
	IsAdmin     bool   `json:"isAdmin"`
}

type loginResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	EventContext *EventContext `json:"eventContext"`
}

type tokenResult struct {
	Data string `json:"data"`
}

type fileResult struct {
	Data *OriginalFile `json:"data"`
}

type filePage struct {
	Data []*OriginalFile `json:"data"`
	Meta struct {
		Offset     int `json:"offset"`
		Limit      int `json:"limit"`
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
}

// RestError is a non-2xx response from the server.
type RestError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *RestError) Error() string {
	return fmt.Sprintf("HTTP status code %d for %s %s: '%s'", e.Status, e.Method, e.Path, string(e.Body))
}
