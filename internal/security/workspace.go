package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deepagent/internal/toolerr"
)

var ErrPathOutsideWorkspace = errors.New("path outside workspace")

// Workspace confines real-backend file access and command cwd to one
// directory tree. The root is stored with symlinks resolved.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps p (relative to the root, or absolute) to an absolute path
// inside the workspace. An empty p is the root. Escapes, including through
// symlinks, are invalid_argument errors for op; other failures are io_failure.
func (w *Workspace) Resolve(op, p string) (string, error) {
	target := strings.TrimSpace(p)
	if target == "" {
		target = w.root
	} else if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}

	resolved, err := evalExisting(filepath.Clean(target))
	if err != nil {
		return "", &toolerr.Error{Kind: toolerr.KindIOFailure, Op: op, Path: p, Err: err}
	}
	if !w.contains(resolved) {
		return "", &toolerr.Error{
			Kind: toolerr.KindInvalidArgument,
			Op:   op,
			Path: p,
			Msg:  fmt.Sprintf("'%s' is outside the workspace", p),
			Err:  ErrPathOutsideWorkspace,
		}
	}
	return resolved, nil
}

// Rel is the workspace-relative slash form of abs, "" for the root itself.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) contains(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// evalExisting resolves symlinks in path. A missing leaf (a file about to be
// written) is resolved through its parent directory instead.
func evalExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(path))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		parent = filepath.Dir(path)
	default:
		return "", fmt.Errorf("resolve parent symlink: %w", err)
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}
