package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildUnifiedDiffUpdate(t *testing.T) {
	diff, adds, dels := BuildUnifiedDiff("docs/a.md", "line1\nline2\n", "line1\nline3\n")
	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, dels)
	for _, needle := range []string{"--- a/docs/a.md", "+++ b/docs/a.md", "-line2", "+line3"} {
		assert.Contains(t, diff, needle)
	}
}

func TestBuildUnifiedDiffCreate(t *testing.T) {
	diff, adds, dels := BuildUnifiedDiff("new.txt", "", "hello\nworld\n")
	assert.Equal(t, 2, adds)
	assert.Equal(t, 0, dels)
	assert.Contains(t, diff, "@@ -0,0 +1,2 @@")
}

func TestTruncateUnifiedDiff(t *testing.T) {
	out, truncated := TruncateUnifiedDiff(strings.Repeat("x\n", 120), 10, 1000)
	assert.True(t, truncated)
	assert.Contains(t, out, "... (diff truncated)")
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		kind string
		args string
		want []string
	}{
		{
			name: "write shows new content",
			kind: "write_file",
			args: `{"file_path":"/notes.md","content":"a\nb\n"}`,
			want: []string{"file_path: /notes.md", "bytes: 4 (+2 lines)", "+a", "+b"},
		},
		{
			name: "edit diffs replaced text",
			kind: "edit_file",
			args: `{"file_path":"/notes.md","old_string":"teh","new_string":"the","replace_all":true}`,
			want: []string{"replace_all: true", "changes: +1 -1", "-teh", "+the"},
		},
		{
			name: "execute shows command",
			kind: "execute",
			args: `{"command":"go test ./..."}`,
			want: []string{"cwd: .", "$ go test ./..."},
		},
		{
			name: "other kinds pretty print",
			kind: "grep",
			args: `{"pattern":"TODO"}`,
			want: []string{"\"pattern\": \"TODO\""},
		},
		{
			name: "invalid json stays raw",
			kind: "write_file",
			args: `{oops`,
			want: []string{"{oops"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Preview(tt.kind, json.RawMessage(tt.args))
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}
