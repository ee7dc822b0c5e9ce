package contents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestGuessType(t *testing.T) {
	if got := GuessType("analysis.ipynb", false); got != TypeNotebook {
		t.Errorf("GuessType(analysis.ipynb) = %s", got)
	}
	if got := GuessType("data", true); got != TypeDirectory {
		t.Errorf("GuessType(data, dir) = %s", got)
	}
	if got := GuessType("data.csv", false); got != TypeFile {
		t.Errorf("GuessType(data.csv) = %s", got)
	}
}

func TestCreatedModified(t *testing.T) {
	ts1 := time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC)
	ts2 := time.Date(2021, 3, 2, 10, 0, 0, 0, time.UTC)
	var cases = []struct {
		created, modified         time.Time
		wantCreated, wantModified time.Time
	}{
		{ts1, ts2, ts1, ts2},
		{time.Time{}, ts2, ts2, ts2},
		{ts1, time.Time{}, ts1, ts1},
		{time.Time{}, time.Time{}, DefaultCreated, DefaultCreated},
	}
	for i, c := range cases {
		gc, gm := CreatedModified(c.created, c.modified)
		if !gc.Equal(c.wantCreated) || !gm.Equal(c.wantModified) {
			t.Errorf("case %d: got (%v, %v), expected (%v, %v)", i, gc, gm, c.wantCreated, c.wantModified)
		}
	}
}

func TestEncodeContent(t *testing.T) {
	model := NewModel("", "hello.txt")
	if err := EncodeContent(model, []byte("hello"), ""); err != nil {
		t.Fatalf("EncodeContent: %v", err)
	}
	if model.Content != "hello" || *model.Format != FormatText || *model.Mimetype != "text/plain" {
		t.Errorf("unexpected text model: %v %v %v", model.Content, *model.Format, *model.Mimetype)
	}

	model = NewModel("", "blob.bin")
	if err := EncodeContent(model, []byte{0xff, 0xfe, 0x00}, ""); err != nil {
		t.Fatalf("EncodeContent: %v", err)
	}
	if *model.Format != FormatBase64 || model.Content != "//4A" {
		t.Errorf("unexpected base64 model: %v %v", model.Content, *model.Format)
	}

	model = NewModel("", "blob.bin")
	err := EncodeContent(model, []byte{0xff, 0xfe}, FormatText)
	if err == nil {
		t.Fatalf("expected error for text format on binary content")
	}
	if StatusCode(err) != 400 {
		t.Errorf("status %d, expected 400", StatusCode(err))
	}
}

func TestIncomingContentBytes(t *testing.T) {
	var cases = []struct {
		name       string
		model      IncomingModel
		want       []byte
		wantStatus int
	}{
		{"text", IncomingModel{Format: "text", Content: json.RawMessage(`"hi"`)}, []byte("hi"), 0},
		{"base64", IncomingModel{Format: "base64", Content: json.RawMessage(`"aGk="`)}, []byte("hi"), 0},
		{"no content", IncomingModel{Format: "text"}, nil, 400},
		{"null content", IncomingModel{Format: "text", Content: json.RawMessage(`null`)}, nil, 400},
		{"bad format", IncomingModel{Format: "json", Content: json.RawMessage(`"hi"`)}, nil, 400},
		{"bad base64", IncomingModel{Format: "base64", Content: json.RawMessage(`"%%%"`)}, nil, 400},
		{"non-string", IncomingModel{Format: "text", Content: json.RawMessage(`{}`)}, nil, 400},
	}
	for _, c := range cases {
		got, err := c.model.ContentBytes()
		if c.wantStatus != 0 {
			if err == nil {
				t.Errorf("%s: expected error", c.name)
			} else if StatusCode(err) != c.wantStatus {
				t.Errorf("%s: status %d, expected %d", c.name, StatusCode(err), c.wantStatus)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if diff := deep.Equal(got, c.want); diff != nil {
			t.Errorf("%s: %v", c.name, diff)
		}
	}
}

func TestModelJSONNulls(t *testing.T) {
	model := NewModel("", "data")
	model.Type = TypeDirectory
	data, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"content", "format", "mimetype", "size"} {
		v, ok := raw[field]
		if !ok {
			t.Errorf("field %s missing", field)
			continue
		}
		if v != nil {
			t.Errorf("field %s = %v, expected null", field, v)
		}
	}
}
