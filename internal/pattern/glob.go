package pattern

import (
	"fmt"
	"sort"
	"strings"
)

const DefaultGlobMaxResults = 100

// Status distinguishes the non-exceptional outcomes of a search.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNotFound       Status = "not_found"
	StatusInvalidPattern Status = "invalid_pattern"
	StatusNoFiles        Status = "no_files"
	StatusNoMatches      Status = "no_matches"
)

// Entry is one candidate path offered by a store backend. Paths use '/' separators.
type Entry struct {
	Path string
	Dir  bool
}

type GlobOptions struct {
	Pattern     string
	Root        string
	MaxResults  int
	IncludeDirs bool
	Recursive   bool
}

type GlobResult struct {
	Pattern     string   `json:"pattern"`
	Root        string   `json:"root"`
	Matches     []string `json:"matches"`
	Truncated   bool     `json:"truncated"`
	MaxResults  int      `json:"max_results"`
	Recursive   bool     `json:"recursive"`
	IncludeDirs bool     `json:"include_dirs"`
	Status      Status   `json:"status"`
	Message     string   `json:"message,omitempty"`
}

// Glob filters candidate entries under opts.Root by a wildcard pattern.
// The pattern is matched against the path relative to the root; a recursive search
// that misses on the relative path retries against the leaf name, so "*.py" finds
// nested files without a "**/" prefix.
func Glob(entries []Entry, opts GlobOptions) GlobResult {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultGlobMaxResults
	}
	res := GlobResult{
		Pattern:     opts.Pattern,
		Root:        opts.Root,
		MaxResults:  opts.MaxResults,
		Recursive:   opts.Recursive,
		IncludeDirs: opts.IncludeDirs,
		Matches:     []string{},
	}
	m, err := Compile(opts.Pattern)
	if err != nil {
		res.Status = StatusInvalidPattern
		res.Message = fmt.Sprintf("Invalid glob pattern '%s': %v", opts.Pattern, err)
		return res
	}

	root := NormalizeRoot(opts.Root)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Dir && !opts.IncludeDirs {
			continue
		}
		rel, ok := Relative(root, e.Path)
		if !ok || rel == "" {
			continue
		}
		if !opts.Recursive && strings.Contains(rel, "/") {
			continue
		}
		if !matchRelative(m, rel, e.Dir, opts.Recursive) {
			continue
		}
		out := strings.TrimRight(e.Path, "/")
		if e.Dir {
			out += "/"
		}
		if _, dup := seen[out]; dup {
			continue
		}
		seen[out] = struct{}{}
		res.Matches = append(res.Matches, out)
	}
	sort.Strings(res.Matches)
	if len(res.Matches) > opts.MaxResults {
		res.Matches = res.Matches[:opts.MaxResults]
		res.Truncated = true
	}
	if len(res.Matches) == 0 {
		res.Status = StatusNoMatches
	} else {
		res.Status = StatusOK
	}
	res.Message = res.render()
	return res
}

// matchRelative tests a directory as "rel/", so "*/" selects directories. The
// leaf retry also accepts the bare directory name.
func matchRelative(m *Matcher, rel string, dir, recursive bool) bool {
	if dir {
		if m.Match(rel + "/") {
			return true
		}
	} else if m.Match(rel) {
		return true
	}
	if !recursive || !strings.Contains(rel, "/") {
		return false
	}
	leaf := rel[strings.LastIndex(rel, "/")+1:]
	return m.Match(leaf) || (dir && m.Match(leaf+"/"))
}

// WithParentDirs returns file entries for paths plus a directory entry for every
// ancestor directory that contains them.
func WithParentDirs(paths []string) []Entry {
	out := make([]Entry, 0, len(paths)*2)
	dirs := map[string]struct{}{}
	for _, p := range paths {
		out = append(out, Entry{Path: p})
		parts := strings.Split(p, "/")
		for i := 1; i < len(parts); i++ {
			dir := strings.Join(parts[:i], "/")
			if dir == "" {
				continue
			}
			if _, ok := dirs[dir]; ok {
				continue
			}
			dirs[dir] = struct{}{}
			out = append(out, Entry{Path: dir, Dir: true})
		}
	}
	return out
}

// NormalizeRoot strips trailing separators; "." and "/" mean the whole namespace.
func NormalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "." || root == "./" {
		return ""
	}
	return strings.TrimRight(root, "/")
}

// Relative returns p relative to root and whether p lies under root.
func Relative(root, p string) (string, bool) {
	p = strings.TrimRight(p, "/")
	if root == "" {
		return strings.TrimPrefix(p, "/"), true
	}
	if p == root {
		return "", true
	}
	if !strings.HasPrefix(p, root+"/") {
		return "", false
	}
	return p[len(root)+1:], true
}

func (r GlobResult) String() string {
	if r.Message != "" {
		return r.Message
	}
	return r.render()
}

func (r GlobResult) render() string {
	switch r.Status {
	case StatusOK:
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d matches for pattern '%s'", len(r.Matches), r.Pattern)
		if r.Truncated {
			fmt.Fprintf(&b, " (limited to %d results)", r.MaxResults)
		}
		b.WriteString(":\n\n")
		b.WriteString(strings.Join(r.Matches, "\n"))
		return b.String()
	case StatusNotFound:
		return fmt.Sprintf("Path '%s' does not exist", r.Root)
	default:
		searchType := "non-recursive"
		if r.Recursive {
			searchType = "recursive"
		}
		dirsNote := ""
		if r.IncludeDirs {
			dirsNote = " (including directories)"
		}
		root := r.Root
		if root == "" {
			root = "."
		}
		return fmt.Sprintf("No matches found for pattern '%s' at '%s' (%s search%s)", r.Pattern, root, searchType, dirsNote)
	}
}

// GlobNotFound is the result for a search rooted at a path that does not exist.
func GlobNotFound(opts GlobOptions) GlobResult {
	res := GlobResult{
		Pattern:     opts.Pattern,
		Root:        opts.Root,
		Matches:     []string{},
		MaxResults:  opts.MaxResults,
		Recursive:   opts.Recursive,
		IncludeDirs: opts.IncludeDirs,
		Status:      StatusNotFound,
	}
	res.Message = res.render()
	return res
}
