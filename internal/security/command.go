package security

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dangerousCmdPattern = regexp.MustCompile(`(^|[\s;&|()])(rm|mv|chmod|chown|dd|mkfs|shutdown|reboot)([\s;&|()]|$)`)
	overwriteRedirect   = regexp.MustCompile(`(^|\s)(1>|2>|>)(\s*)([^\s]+)`)
)

// Reasons reported by AnalyzeCommand.
const (
	ReasonSubstitution = "contains command substitution/backticks"
	ReasonUnparsable   = "command parse failed (fail closed)"
	ReasonDangerous    = "matches dangerous command policy"
	ReasonOverwrite    = "overwrite redirection target exists"
)

// CommandRisk marks a command that needs a fresh human decision on every call.
type CommandRisk struct {
	RequireApproval bool
	Reason          string
	// Target is the existing file a '>' redirect would clobber.
	Target string
}

func (r CommandRisk) String() string {
	if r.Target != "" {
		return r.Reason + ": " + r.Target
	}
	return r.Reason
}

// AnalyzeCommand checks command as it would run in dir. dir may be empty, in
// which case relative redirect targets are not checked.
func AnalyzeCommand(command, dir string) CommandRisk {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return CommandRisk{}
	}
	if strings.Contains(trimmed, "$(") || strings.Contains(trimmed, "`") {
		return CommandRisk{RequireApproval: true, Reason: ReasonSubstitution}
	}
	if _, err := splitWords(trimmed); err != nil {
		return CommandRisk{RequireApproval: true, Reason: ReasonUnparsable}
	}
	if dangerousCmdPattern.MatchString(trimmed) {
		return CommandRisk{RequireApproval: true, Reason: ReasonDangerous}
	}
	if target := existingRedirectTarget(trimmed, dir); target != "" {
		return CommandRisk{RequireApproval: true, Reason: ReasonOverwrite, Target: target}
	}
	return CommandRisk{}
}

// CommandRisk analyzes command in cwd, resolved inside the workspace. An
// unresolvable cwd falls back to the root; execute rejects it later anyway.
func (w *Workspace) CommandRisk(command, cwd string) CommandRisk {
	dir, err := w.Resolve("execute", cwd)
	if err != nil {
		dir = w.root
	}
	return AnalyzeCommand(command, dir)
}

func existingRedirectTarget(command, dir string) string {
	for _, m := range overwriteRedirect.FindAllStringSubmatch(command, -1) {
		target := strings.Trim(m[4], `"'`)
		if target == "" || strings.HasPrefix(target, "&") || target == "/dev/null" {
			continue
		}
		if !filepath.IsAbs(target) {
			if dir == "" {
				continue
			}
			target = filepath.Join(dir, target)
		}
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			return target
		}
	}
	return ""
}

// splitWords splits input the way a POSIX shell would for quoting purposes.
// It only fails on an unbalanced quote or a trailing backslash.
func splitWords(input string) ([]string, error) {
	var (
		out    []string
		cur    strings.Builder
		quote  rune
		escape bool
		quoted bool
	)
	for _, r := range input {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case r == '\\' && quote != '\'':
			escape = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			quoted = true
		case r == ' ' || r == '\t' || r == '\n':
			if cur.Len() > 0 || quoted {
				out = append(out, cur.String())
				cur.Reset()
				quoted = false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escape {
		return nil, errors.New("dangling escape")
	}
	if quote != 0 {
		return nil, errors.New("unmatched quote")
	}
	if cur.Len() > 0 || quoted {
		out = append(out, cur.String())
	}
	return out, nil
}
