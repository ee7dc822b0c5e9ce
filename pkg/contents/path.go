package contents

import "strings"

// ValidatePath normalizes an API path to its canonical relative form.
// Slashes are trimmed, empty and "." segments dropped and ".." segments
// resolved; a path escaping the root fails with a 404 code.
func ValidatePath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", nil
	}
	var stack []string
	for _, part := range strings.Split(trimmed, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return "", NewError(CodeBadPath, "path '%s' points outside of the filesystem", p)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, part)
		}
	}
	return strings.Join(stack, "/"), nil
}

// IsRoot reports whether p names the backend root.
func IsRoot(p string) bool {
	return strings.Trim(p, "/") == ""
}

// SplitPath splits p into its directory and base name.
func SplitPath(p string) (string, string) {
	p = strings.Trim(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

// DirName returns the directory part of p ("" for top-level entries).
func DirName(p string) string {
	dir, _ := SplitPath(p)
	return dir
}

// BaseName returns the last path segment of p.
func BaseName(p string) string {
	_, name := SplitPath(p)
	return name
}

// JoinPath joins dir and name, keeping the result in canonical relative form.
func JoinPath(dir, name string) string {
	dir = strings.Trim(dir, "/")
	name = strings.Trim(name, "/")
	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}
	return dir + "/" + name
}

// IsHiddenName reports whether a single path segment is hidden.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// HiddenPath reports whether any segment of p is hidden.
func HiddenPath(p string) bool {
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if IsHiddenName(part) && part != "" {
			return true
		}
	}
	return false
}

// Ext returns the extension of the last segment including the dot.
func Ext(p string) string {
	name := BaseName(p)
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[idx:]
}
