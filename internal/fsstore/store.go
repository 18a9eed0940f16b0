package fsstore

import (
	"fmt"
	"sort"
	"strings"

	"deepagent/internal/pattern"
	"deepagent/internal/toolerr"
)

const (
	BackendVirtual = "virtual"
	BackendReal    = "real"

	DefaultReadLimit = 2000
	MaxLineLength    = 2000

	// EmptyContents is returned by Read for a file that exists but has no content.
	EmptyContents = "System reminder: File exists but has empty contents"
)

// Store is the file operations contract shared by the virtual and real backends.
// A session uses exactly one backend for its whole lifetime.
type Store interface {
	Backend() string
	List(path string) ([]string, error)
	Read(path string, offset, limit int) (string, error)
	Write(path, content string) error
	Edit(path, oldString, newString string, replaceAll bool) (int, error)
	Glob(opts pattern.GlobOptions) (pattern.GlobResult, error)
	Grep(req GrepRequest) (pattern.GrepResult, error)
}

// GrepRequest selects grep targets either by explicit file list or by a root path
// plus a filename wildcard.
type GrepRequest struct {
	pattern.GrepOptions
	Files     []string
	Path      string
	Include   string
	Recursive bool
}

// Files is the path to content map that backs a virtual store and travels with
// session snapshots.
type Files map[string]string

func (f Files) Clone() Files {
	out := make(Files, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Files) Paths() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FormatRead renders content cat -n style starting after offset lines.
func FormatRead(op, path, content string, offset, limit int) (string, error) {
	if strings.TrimSpace(content) == "" {
		return EmptyContents, nil
	}
	if offset < 0 {
		return "", toolerr.Newf(toolerr.KindInvalidArgument, op, "offset must not be negative (got %d)", offset)
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	lines := pattern.SplitLines(content)
	if offset >= len(lines) {
		return "", &toolerr.Error{
			Kind: toolerr.KindInvalidArgument,
			Op:   op,
			Path: path,
			Msg:  fmt.Sprintf("Line offset %d exceeds file length (%d lines)", offset, len(lines)),
		}
	}
	end := min(offset+limit, len(lines))
	var b strings.Builder
	for i := offset; i < end; i++ {
		line := lines[i]
		if runes := []rune(line); len(runes) > MaxLineLength {
			line = string(runes[:MaxLineLength])
		}
		if i > offset {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d\t%s", i+1, line)
	}
	return b.String(), nil
}

// ApplyEdit replaces oldString with newString. Without replaceAll the match must be
// unique; an ambiguous target is refused rather than guessing an occurrence.
func ApplyEdit(op, path, content, oldString, newString string, replaceAll bool) (string, int, error) {
	if oldString == "" {
		return "", 0, toolerr.New(toolerr.KindInvalidArgument, op, "old_string must not be empty")
	}
	count := strings.Count(content, oldString)
	if count == 0 {
		return "", 0, &toolerr.Error{
			Kind: toolerr.KindNotFound,
			Op:   op,
			Path: path,
			Msg:  fmt.Sprintf("String not found in file: '%s'", oldString),
		}
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldString, newString), count, nil
	}
	if count > 1 {
		return "", 0, &toolerr.Error{
			Kind: toolerr.KindAmbiguousTarget,
			Op:   op,
			Path: path,
			Msg: fmt.Sprintf("String '%s' appears %d times in file. Use replace_all=true to replace all instances, "+
				"or provide a more specific string with surrounding context.", oldString, count),
		}
	}
	return strings.Replace(content, oldString, newString, 1), 1, nil
}

func includePattern(include string) (*pattern.Matcher, error) {
	include = strings.TrimSpace(include)
	if include == "" {
		include = "*"
	}
	return pattern.Compile(include)
}

func leafName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
