package pattern

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	DefaultGrepMaxResults = 50
	binarySniffBytes      = 2048
)

// File is one grep target supplied by a store backend.
type File struct {
	Path   string
	Text   string
	Binary bool
	Err    error
}

type GrepOptions struct {
	Pattern       string
	CaseSensitive bool
	ContextLines  int
	Regex         bool
	MaxResults    int
}

type Line struct {
	Number int    `json:"line"`
	Text   string `json:"text"`
	Match  bool   `json:"match"`
}

type LineMatch struct {
	Line    int    `json:"line"`
	Text    string `json:"text"`
	Context []Line `json:"context,omitempty"`
}

type FileMatches struct {
	Path    string  `json:"path"`
	Matches []LineMatch `json:"matches"`
}

type GrepResult struct {
	Pattern       string        `json:"pattern"`
	Regex         bool          `json:"regex"`
	CaseSensitive bool          `json:"case_sensitive"`
	ContextLines  int           `json:"context_lines"`
	MaxResults    int           `json:"max_results"`
	Files         []FileMatches `json:"files"`
	Total         int           `json:"total"`
	Truncated     bool          `json:"truncated"`
	Skipped       []string      `json:"skipped,omitempty"`
	Status        Status        `json:"status"`
	Message       string        `json:"message,omitempty"`
}

type lineMatcher func(line string) bool

// Grep searches files line by line. Unreadable or binary files are recorded in
// Skipped and never abort the search. The match count is capped across all files.
func Grep(files []File, opts GrepOptions) GrepResult {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultGrepMaxResults
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = 0
	}
	res := GrepResult{
		Pattern:       opts.Pattern,
		Regex:         opts.Regex,
		CaseSensitive: opts.CaseSensitive,
		ContextLines:  opts.ContextLines,
		MaxResults:    opts.MaxResults,
		Files:         []FileMatches{},
	}

	match, err := newLineMatcher(opts)
	if err != nil {
		res.Status = StatusInvalidPattern
		res.Message = fmt.Sprintf("Invalid regex pattern: %v", err)
		return res
	}
	if len(files) == 0 {
		res.Status = StatusNoFiles
		res.Message = "No files found to search"
		return res
	}

	for _, f := range files {
		if res.Total >= opts.MaxResults {
			res.Truncated = true
			break
		}
		if f.Err != nil || f.Binary {
			res.Skipped = append(res.Skipped, f.Path)
			continue
		}
		if f.Text == "" {
			continue
		}
		lines := SplitLines(f.Text)
		fm := FileMatches{Path: f.Path}
		for i, line := range lines {
			if !match(line) {
				continue
			}
			m := LineMatch{Line: i + 1, Text: line}
			if opts.ContextLines > 0 {
				start := max(0, i-opts.ContextLines)
				end := min(len(lines), i+opts.ContextLines+1)
				for j := start; j < end; j++ {
					m.Context = append(m.Context, Line{Number: j + 1, Text: lines[j], Match: j == i})
				}
			}
			fm.Matches = append(fm.Matches, m)
			res.Total++
			if res.Total >= opts.MaxResults {
				break
			}
		}
		if len(fm.Matches) > 0 {
			res.Files = append(res.Files, fm)
		}
	}
	if res.Total >= opts.MaxResults {
		res.Truncated = true
	}
	if res.Total == 0 {
		res.Status = StatusNoMatches
	} else {
		res.Status = StatusOK
	}
	res.Message = res.render()
	return res
}

func newLineMatcher(opts GrepOptions) (lineMatcher, error) {
	if opts.Regex {
		flags := regexp2.None
		if !opts.CaseSensitive {
			flags = regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(opts.Pattern, flags)
		if err != nil {
			return nil, err
		}
		re.MatchTimeout = matchTimeout
		return func(line string) bool {
			ok, err := re.MatchString(line)
			return err == nil && ok
		}, nil
	}
	if opts.CaseSensitive {
		return func(line string) bool { return strings.Contains(line, opts.Pattern) }, nil
	}
	needle := strings.ToLower(opts.Pattern)
	return func(line string) bool { return strings.Contains(strings.ToLower(line), needle) }, nil
}

// LooksBinary reports whether data contains a NUL byte in its leading sample.
func LooksBinary(data []byte) bool {
	sample := data
	if len(sample) > binarySniffBytes {
		sample = sample[:binarySniffBytes]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

// SplitLines splits text on \n, \r\n or \r. A trailing line break does not
// produce an extra empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (r GrepResult) String() string {
	if r.Message != "" {
		return r.Message
	}
	return r.render()
}

func (r GrepResult) render() string {
	switch r.Status {
	case StatusOK:
	case StatusNoMatches:
		desc := fmt.Sprintf("text '%s'", r.Pattern)
		if r.Regex {
			desc = fmt.Sprintf("regex pattern '%s'", r.Pattern)
		}
		caseDesc := " (case-insensitive)"
		if r.CaseSensitive {
			caseDesc = " (case-sensitive)"
		}
		return "No matches found for " + desc + caseDesc
	default:
		return r.Message
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found matches in %d files", len(r.Files))
	if r.Truncated {
		fmt.Fprintf(&b, " (limited to %d total matches)", r.MaxResults)
	}
	b.WriteString(":\n\n")
	for i, f := range r.Files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(f.Path)
		for _, m := range f.Matches {
			if len(m.Context) == 0 {
				fmt.Fprintf(&b, "\n  %4d: %s", m.Line, m.Text)
				continue
			}
			for _, c := range m.Context {
				prefix := " "
				if c.Match {
					prefix = ">"
				}
				fmt.Fprintf(&b, "\n%s %4d: %s", prefix, c.Number, c.Text)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// GrepNotFound is the result for a search rooted at a path that does not exist.
func GrepNotFound(opts GrepOptions, root string) GrepResult {
	return GrepResult{
		Pattern:       opts.Pattern,
		Regex:         opts.Regex,
		CaseSensitive: opts.CaseSensitive,
		MaxResults:    opts.MaxResults,
		Files:         []FileMatches{},
		Status:        StatusNotFound,
		Message:       fmt.Sprintf("Path '%s' does not exist", root),
	}
}
