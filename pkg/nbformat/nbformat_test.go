package nbformat

import (
	"encoding/json"
	"testing"
)

func TestValidateEmpty(t *testing.T) {
	data, err := json.Marshal(Empty())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := Validate(data); err != nil {
		t.Errorf("Validate(Empty()): %v", err)
	}
}

func TestValidate(t *testing.T) {
	var cases = []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			"code cell",
			`{"cells":[{"cell_type":"code","source":"print(1)","metadata":{},"outputs":[],"execution_count":null}],"metadata":{},"nbformat":4,"nbformat_minor":5}`,
			false,
		},
		{
			"multiline source",
			`{"cells":[{"cell_type":"markdown","source":["# a\n","b"],"metadata":{}}],"metadata":{},"nbformat":4,"nbformat_minor":2}`,
			false,
		},
		{
			"missing cells",
			`{"metadata":{},"nbformat":4,"nbformat_minor":5}`,
			true,
		},
		{
			"wrong major version",
			`{"cells":[],"metadata":{},"nbformat":3,"nbformat_minor":0}`,
			true,
		},
		{
			"bad cell type",
			`{"cells":[{"cell_type":"svg","source":"","metadata":{}}],"metadata":{},"nbformat":4,"nbformat_minor":5}`,
			true,
		},
		{
			"not json",
			`{"cells":`,
			true,
		},
		{
			"not an object",
			`[1,2,3]`,
			true,
		},
	}
	for _, c := range cases {
		err := Validate([]byte(c.doc))
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: %v", c.name, err)
		}
	}
}
