package fsstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"deepagent/internal/pattern"
	"deepagent/internal/security"
	"deepagent/internal/toolerr"
)

// skipDirs are never descended into by glob or grep.
var skipDirs = map[string]bool{
	".git": true,
}

// RealStore operates on the workspace directory on disk. Every mutation lands
// immediately; there is no staging and no rollback.
type RealStore struct {
	ws *security.Workspace
}

func NewRealStore(ws *security.Workspace) *RealStore {
	return &RealStore{ws: ws}
}

func (s *RealStore) Backend() string {
	return BackendReal
}

func (s *RealStore) Workspace() *security.Workspace {
	return s.ws
}

func (s *RealStore) resolve(op, p string) (string, error) {
	return s.ws.Resolve(op, p)
}

func (s *RealStore) display(abs string) string {
	return s.ws.Rel(abs)
}

func (s *RealStore) List(p string) ([]string, error) {
	resolved, err := s.resolve("ls", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, toolerr.IO("ls", p, err)
	}
	if !info.IsDir() {
		return []string{s.display(resolved)}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, toolerr.IO("ls", p, err)
	}
	base := s.display(resolved)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := path.Join(base, e.Name())
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *RealStore) Read(p string, offset, limit int) (string, error) {
	resolved, err := s.resolve("read_file", p)
	if err != nil {
		return "", err
	}
	content, err := readText(resolved)
	if err != nil {
		return "", toolerr.IO("read_file", p, err)
	}
	return FormatRead("read_file", p, content, offset, limit)
}

func (s *RealStore) Write(p, content string) error {
	if strings.TrimSpace(p) == "" {
		return toolerr.New(toolerr.KindInvalidArgument, "write_file", "file_path is required")
	}
	resolved, err := s.resolve("write_file", p)
	if err != nil {
		return err
	}
	if err := writeAtomic(resolved, []byte(content)); err != nil {
		return toolerr.IO("write_file", p, err)
	}
	return nil
}

func (s *RealStore) Edit(p, oldString, newString string, replaceAll bool) (int, error) {
	resolved, err := s.resolve("edit_file", p)
	if err != nil {
		return 0, err
	}
	content, err := readText(resolved)
	if err != nil {
		return 0, toolerr.IO("edit_file", p, err)
	}
	updated, n, err := ApplyEdit("edit_file", p, content, oldString, newString, replaceAll)
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(resolved, []byte(updated)); err != nil {
		return 0, toolerr.IO("edit_file", p, err)
	}
	return n, nil
}

func (s *RealStore) Glob(opts pattern.GlobOptions) (pattern.GlobResult, error) {
	root, err := s.resolve("glob", opts.Root)
	if err != nil {
		return pattern.GlobResult{}, err
	}
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pattern.GlobNotFound(opts), nil
		}
		return pattern.GlobResult{}, toolerr.IO("glob", opts.Root, err)
	}

	var entries []pattern.Entry
	err = s.walk(root, opts.Recursive, func(abs string, d fs.DirEntry) error {
		entries = append(entries, pattern.Entry{Path: s.display(abs), Dir: d.IsDir()})
		return nil
	})
	if err != nil {
		return pattern.GlobResult{}, toolerr.IO("glob", opts.Root, err)
	}
	opts.Root = s.display(root)
	return pattern.Glob(entries, opts), nil
}

func (s *RealStore) Grep(req GrepRequest) (pattern.GrepResult, error) {
	var targets []pattern.File
	if len(req.Files) > 0 {
		for _, p := range req.Files {
			resolved, err := s.resolve("grep", p)
			if err != nil {
				return pattern.GrepResult{}, err
			}
			if _, err := os.Stat(resolved); errors.Is(err, fs.ErrNotExist) {
				return pattern.GrepNotFound(req.GrepOptions, p), nil
			}
			targets = append(targets, loadGrepFile(s.display(resolved), resolved))
		}
		return pattern.Grep(targets, req.GrepOptions), nil
	}

	include, err := includePattern(req.Include)
	if err != nil {
		return pattern.GrepResult{}, toolerr.Wrap(toolerr.KindInvalidPattern, "grep", err)
	}
	root, err := s.resolve("grep", req.Path)
	if err != nil {
		return pattern.GrepResult{}, err
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pattern.GrepNotFound(req.GrepOptions, req.Path), nil
		}
		return pattern.GrepResult{}, toolerr.IO("grep", req.Path, err)
	}
	if !info.IsDir() {
		targets = append(targets, loadGrepFile(s.display(root), root))
		return pattern.Grep(targets, req.GrepOptions), nil
	}
	err = s.walk(root, req.Recursive, func(abs string, d fs.DirEntry) error {
		if d.IsDir() || !include.Match(d.Name()) {
			return nil
		}
		targets = append(targets, loadGrepFile(s.display(abs), abs))
		return nil
	})
	if err != nil {
		return pattern.GrepResult{}, toolerr.IO("grep", req.Path, err)
	}
	return pattern.Grep(targets, req.GrepOptions), nil
}

// walk visits every entry below root in lexical order. Unreadable subtrees are
// skipped instead of failing the walk.
func (s *RealStore) walk(root string, recursive bool, fn func(abs string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if err := fn(p, d); err != nil {
				return err
			}
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(p, d)
	})
}

func loadGrepFile(display, abs string) pattern.File {
	data, err := os.ReadFile(abs)
	if err != nil {
		return pattern.File{Path: display, Err: err}
	}
	if pattern.LooksBinary(data) {
		return pattern.File{Path: display, Binary: true}
	}
	text, err := decodeLossy(data)
	if err != nil {
		return pattern.File{Path: display, Err: err}
	}
	return pattern.File{Path: display, Text: text}
}

func readText(abs string) (string, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", filepath.Base(abs))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return decodeLossy(data)
}

// decodeLossy replaces invalid UTF-8 sequences with U+FFFD.
func decodeLossy(data []byte) (string, error) {
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode utf-8: %w", err)
	}
	return string(out), nil
}

// writeAtomic writes data to a temp file next to target and renames it into place,
// creating parent directories as needed.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", filepath.Base(target))
		}
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
