package toolerr

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(KindAmbiguousTarget, "edit", "matches twice"), KindAmbiguousTarget},
		{"wrapped typed", fmt.Errorf("outer: %w", NotFound("read", "a.txt")), KindNotFound},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), KindTimeout},
		{"not exist", fs.ErrNotExist, KindNotFound},
		{"permission", fs.ErrPermission, KindIOFailure},
		{"plain", fmt.Errorf("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestIOMapsMissingFiles(t *testing.T) {
	_, err := os.ReadFile("/definitely/not/here.txt")
	require.Error(t, err)

	wrapped := IO("read", "/definitely/not/here.txt", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "read: file '/definitely/not/here.txt' not found", wrapped.Error())
	assert.Nil(t, IO("read", "x", nil))
}

func TestErrorMessage(t *testing.T) {
	err := Newf(KindInvalidArgument, "read_file", "Line offset %d exceeds file length (%d lines)", 10, 3)
	assert.Equal(t, "read_file: Line offset 10 exceeds file length (3 lines)", err.Error())

	wrapped := Wrap(KindIOFailure, "write_file", fmt.Errorf("disk full"))
	assert.Equal(t, "write_file: disk full", wrapped.Error())
	assert.Nil(t, Wrap(KindIOFailure, "x", nil))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(KindRejected, "gate", "declined")))
	assert.True(t, Recoverable(context.DeadlineExceeded))
	assert.False(t, Recoverable(fmt.Errorf("corrupted checkpoint")))
	assert.False(t, Recoverable(nil))
}
