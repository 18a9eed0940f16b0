package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Operation kinds that take part in approval by default.
var DefaultGatedKinds = []string{"write_file", "edit_file", "execute", "ls", "glob", "grep"}

// Key derives the cache key "kind:directory" for an action. The directory is
// the parent of file_path for file mutations, the cwd for execute, and the path
// argument for listing and search operations. Missing or relative values are
// resolved against root and cleaned. Arguments that do not decode yield
// ErrUndecodableArgs and no key.
func Key(kind string, args json.RawMessage, root string) (string, error) {
	var in struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
		Cwd      string `json:"cwd"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUndecodableArgs, err)
		}
	}

	var dir string
	switch kind {
	case "write_file", "edit_file":
		dir = filepath.Dir(absolute(in.FilePath, root))
	case "execute":
		dir = absolute(in.Cwd, root)
	default:
		dir = absolute(in.Path, root)
	}
	return kind + ":" + dir, nil
}

// ErrUndecodableArgs marks arguments no key can be derived from.
var ErrUndecodableArgs = errors.New("arguments do not decode")

// Directory returns the directory half of a key.
func Directory(key string) string {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return ""
}

func absolute(p, root string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = root
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p)
}
