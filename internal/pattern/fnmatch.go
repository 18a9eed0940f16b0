package pattern

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const matchTimeout = time.Second

// Matcher is a compiled shell-style wildcard pattern. Unlike path.Match,
// '*' also crosses '/', the same way fnmatch treats names.
type Matcher struct {
	pattern string
	re      *regexp2.Regexp
}

func Compile(pattern string) (*Matcher, error) {
	re, err := regexp2.Compile(translate(pattern), regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	return &Matcher{pattern: pattern, re: re}, nil
}

func (m *Matcher) Pattern() string {
	return m.pattern
}

func (m *Matcher) Match(name string) bool {
	ok, err := m.re.MatchString(name)
	return err == nil && ok
}

// Match reports whether name matches the wildcard pattern.
func Match(pattern, name string) (bool, error) {
	m, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return m.Match(name), nil
}

// translate turns *, ?, [seq] and [!seq] into an anchored regular expression.
// An unterminated '[' is taken literally.
func translate(pat string) string {
	var b strings.Builder
	b.WriteString(`\A(?:`)
	n := len(pat)
	for i := 0; i < n; {
		c := pat[i]
		i++
		switch c {
		case '*':
			for i < n && pat[i] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i
			if j < n && pat[j] == '!' {
				j++
			}
			if j < n && pat[j] == ']' {
				j++
			}
			for j < n && pat[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			body := pat[i:j]
			i = j + 1
			b.WriteString(charClass(body))
		default:
			start := i - 1
			for i < n && !isWildcard(pat[i]) {
				i++
			}
			b.WriteString(regexp2.Escape(pat[start:i]))
		}
	}
	b.WriteString(`)\z`)
	return b.String()
}

func isWildcard(c byte) bool {
	return c == '*' || c == '?' || c == '['
}

// HasWildcard reports whether s contains any glob metacharacter.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func charClass(body string) string {
	negate := false
	if strings.HasPrefix(body, "!") {
		negate = true
		body = body[1:]
	}
	var b strings.Builder
	b.WriteByte('[')
	if negate {
		b.WriteByte('^')
	}
	for i := 0; i < len(body); i++ {
		switch c := body[i]; c {
		case '\\', '[', ']', '^':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(']')
	return b.String()
}
