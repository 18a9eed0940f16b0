package fsstore

import (
	"sort"
	"strings"
	"sync"

	"deepagent/internal/pattern"
	"deepagent/internal/toolerr"
)

// VirtualStore keeps file content in memory. Writes made during a step are staged
// and become part of the committed map only when the step commits; reads in the
// same step already see them.
type VirtualStore struct {
	mu      sync.RWMutex
	files   Files
	pending Files
	dirty   map[string]struct{}
}

func NewVirtualStore(files Files) *VirtualStore {
	if files == nil {
		files = Files{}
	}
	return &VirtualStore{
		files:   files,
		pending: Files{},
		dirty:   map[string]struct{}{},
	}
}

func (s *VirtualStore) Backend() string {
	return BackendVirtual
}

func (s *VirtualStore) lookup(path string) (string, bool) {
	if v, ok := s.pending[path]; ok {
		return v, true
	}
	v, ok := s.files[path]
	return v, ok
}

// view returns the merged committed and staged namespace. Callers hold mu.
func (s *VirtualStore) view() Files {
	out := s.files.Clone()
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

func (s *VirtualStore) List(path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := pattern.NormalizeRoot(path)
	if _, ok := s.lookup(root); ok && root != "" {
		return []string{root}, nil
	}
	seen := map[string]struct{}{}
	found := false
	for p := range s.view() {
		rel, ok := pattern.Relative(root, p)
		if !ok || rel == "" {
			continue
		}
		found = true
		name := rel
		if i := strings.Index(rel, "/"); i >= 0 {
			name = rel[:i+1]
		}
		seen[joinPath(root, p, name)] = struct{}{}
	}
	if !found && root != "" {
		return nil, toolerr.NotFound("ls", path)
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// joinPath rebuilds a listing entry keeping the leading slash style of the stored key.
func joinPath(root, full, name string) string {
	if root == "" {
		if strings.HasPrefix(full, "/") {
			return "/" + name
		}
		return name
	}
	return root + "/" + name
}

func (s *VirtualStore) Read(path string, offset, limit int) (string, error) {
	s.mu.RLock()
	content, ok := s.lookup(path)
	s.mu.RUnlock()
	if !ok {
		return "", toolerr.NotFound("read_file", path)
	}
	return FormatRead("read_file", path, content, offset, limit)
}

func (s *VirtualStore) Write(path, content string) error {
	if strings.TrimSpace(path) == "" {
		return toolerr.New(toolerr.KindInvalidArgument, "write_file", "file_path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[path] = content
	return nil
}

func (s *VirtualStore) Edit(path, oldString, newString string, replaceAll bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.lookup(path)
	if !ok {
		return 0, toolerr.NotFound("edit_file", path)
	}
	updated, n, err := ApplyEdit("edit_file", path, content, oldString, newString, replaceAll)
	if err != nil {
		return 0, err
	}
	s.pending[path] = updated
	return n, nil
}

func (s *VirtualStore) Glob(opts pattern.GlobOptions) (pattern.GlobResult, error) {
	s.mu.RLock()
	paths := s.view().Paths()
	s.mu.RUnlock()

	root := pattern.NormalizeRoot(opts.Root)
	if root != "" && !hasPrefixPath(paths, root) {
		return pattern.GlobNotFound(opts), nil
	}
	var entries []pattern.Entry
	if opts.IncludeDirs {
		entries = pattern.WithParentDirs(paths)
	} else {
		entries = make([]pattern.Entry, 0, len(paths))
		for _, p := range paths {
			entries = append(entries, pattern.Entry{Path: p})
		}
	}
	return pattern.Glob(entries, opts), nil
}

func (s *VirtualStore) Grep(req GrepRequest) (pattern.GrepResult, error) {
	s.mu.RLock()
	files := s.view()
	s.mu.RUnlock()

	var targets []pattern.File
	if len(req.Files) > 0 {
		for _, p := range req.Files {
			content, ok := files[p]
			if !ok {
				return pattern.GrepNotFound(req.GrepOptions, p), nil
			}
			targets = append(targets, pattern.File{Path: p, Text: content})
		}
		return pattern.Grep(targets, req.GrepOptions), nil
	}

	include, err := includePattern(req.Include)
	if err != nil {
		return pattern.GrepResult{}, toolerr.Wrap(toolerr.KindInvalidPattern, "grep", err)
	}
	root := pattern.NormalizeRoot(req.Path)
	paths := files.Paths()
	if root != "" && !hasPrefixPath(paths, root) {
		return pattern.GrepNotFound(req.GrepOptions, req.Path), nil
	}
	for _, p := range paths {
		rel, ok := pattern.Relative(root, p)
		if !ok || rel == "" {
			if p != root {
				continue
			}
		}
		if !req.Recursive && strings.Contains(rel, "/") {
			continue
		}
		if !include.Match(leafName(p)) {
			continue
		}
		targets = append(targets, pattern.File{Path: p, Text: files[p]})
	}
	return pattern.Grep(targets, req.GrepOptions), nil
}

func hasPrefixPath(paths []string, root string) bool {
	for _, p := range paths {
		if _, ok := pattern.Relative(root, p); ok {
			return true
		}
	}
	return false
}

// Commit publishes staged writes into the committed map and returns the paths
// that changed in this step.
func (s *VirtualStore) Commit() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := make([]string, 0, len(s.pending))
	for k, v := range s.pending {
		s.files[k] = v
		s.dirty[k] = struct{}{}
		changed = append(changed, k)
	}
	s.pending = Files{}
	sort.Strings(changed)
	return changed
}

// Discard drops staged writes.
func (s *VirtualStore) Discard() {
	s.mu.Lock()
	s.pending = Files{}
	s.mu.Unlock()
}

// Snapshot returns a private copy of the current namespace, staged writes included.
func (s *VirtualStore) Snapshot() Files {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view()
}

// Committed returns a copy of the committed map only.
func (s *VirtualStore) Committed() Files {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files.Clone()
}

// Changes returns the committed content of every path written since the store
// was created.
func (s *VirtualStore) Changes() Files {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Files, len(s.dirty))
	for k := range s.dirty {
		out[k] = s.files[k]
	}
	return out
}

// Merge writes each path of changes into the store, whole content per path.
// Later merges of the same path overwrite earlier ones.
func (s *VirtualStore) Merge(changes Files) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := changes.Paths()
	for _, p := range paths {
		s.pending[p] = changes[p]
	}
	return paths
}
