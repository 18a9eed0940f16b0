package defaults

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose(t *testing.T) {
	got := Compose("", false)
	assert.True(t, strings.HasPrefix(got, "You are an autonomous agent"))
	assert.Contains(t, got, "## write_todos")
	assert.Contains(t, got, "## task")
	assert.NotContains(t, got, "## execute")

	got = Compose("  Fix the build.  ", true)
	assert.True(t, strings.HasPrefix(got, "Fix the build.\n"))
	assert.Contains(t, got, "## execute")
}
