package contents

import (
	"testing"
)

func TestValidatePath(t *testing.T) {
	var cases = []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"/", "", false},
		{"notebooks", "notebooks", false},
		{"/notebooks/", "notebooks", false},
		{"a//b", "a/b", false},
		{"a/./b", "a/b", false},
		{"a/b/../c", "a/c", false},
		{"a/..", "", false},
		{"..", "", true},
		{"../muhaha", "", true},
		{"a/../../b", "", true},
	}
	for _, c := range cases {
		got, err := ValidatePath(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ValidatePath(%q): expected error, got %q", c.in, got)
				continue
			}
			if StatusCode(err) != 404 {
				t.Errorf("ValidatePath(%q): status %d, expected 404", c.in, StatusCode(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidatePath(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ValidatePath(%q) = %q, expected %q", c.in, got, c.want)
		}
	}
}

func TestSplitJoin(t *testing.T) {
	var cases = []struct {
		path string
		dir  string
		name string
	}{
		{"", "", ""},
		{"file.txt", "", "file.txt"},
		{"a/b/c.ipynb", "a/b", "c.ipynb"},
		{"/a/b/", "a", "b"},
	}
	for _, c := range cases {
		dir, name := SplitPath(c.path)
		if dir != c.dir || name != c.name {
			t.Errorf("SplitPath(%q) = (%q, %q), expected (%q, %q)", c.path, dir, name, c.dir, c.name)
		}
		if c.path != "" {
			joined := JoinPath(dir, name)
			want, _ := ValidatePath(c.path)
			if joined != want {
				t.Errorf("JoinPath(%q, %q) = %q, expected %q", dir, name, joined, want)
			}
		}
	}
}

func TestHidden(t *testing.T) {
	if !IsHiddenName(".ipynb_checkpoints") {
		t.Errorf("IsHiddenName(.ipynb_checkpoints) = false")
	}
	if IsHiddenName("visible.txt") {
		t.Errorf("IsHiddenName(visible.txt) = true")
	}
	if !HiddenPath("a/.hidden/b") {
		t.Errorf("HiddenPath(a/.hidden/b) = false")
	}
	if HiddenPath("a/b/c") {
		t.Errorf("HiddenPath(a/b/c) = true")
	}
}

func TestExt(t *testing.T) {
	var cases = map[string]string{
		"nb.ipynb":     ".ipynb",
		"a/b/file.txt": ".txt",
		"noext":        "",
		".hidden":      "",
		"a.b/c":        "",
	}
	for in, want := range cases {
		if got := Ext(in); got != want {
			t.Errorf("Ext(%q) = %q, expected %q", in, got, want)
		}
	}
}
