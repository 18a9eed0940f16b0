package approval

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/toolerr"
)

const root = "/work"

type scriptedPrompter struct {
	mu        sync.Mutex
	responses []Response
	asked     []Request
	err       error
}

func (p *scriptedPrompter) Prompt(_ context.Context, req Request) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, req)
	if p.err != nil {
		return Response{}, p.err
	}
	if len(p.responses) == 0 {
		return Reject(), nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

type memJournal struct {
	decisions []Decision
}

func (j *memJournal) RecordApproval(d Decision) error {
	j.decisions = append(j.decisions, d)
	return nil
}

func action(id, kind, args string) Action {
	return Action{ID: id, Kind: kind, Args: json.RawMessage(args)}
}

func ids(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestKey(t *testing.T) {
	cases := []struct {
		kind string
		args string
		want string
	}{
		{"write_file", `{"file_path":"src/a.go"}`, "write_file:/work/src"},
		{"edit_file", `{"file_path":"/work/src/../src/b.go"}`, "edit_file:/work/src"},
		{"execute", `{"command":"ls"}`, "execute:/work"},
		{"execute", `{"command":"ls","cwd":"build/"}`, "execute:/work/build"},
		{"ls", `{}`, "ls:/work"},
		{"glob", `{"pattern":"*.go","path":"pkg"}`, "glob:/work/pkg"},
		{"grep", `{"pattern":"x","path":"/other/dir/"}`, "grep:/other/dir"},
	}
	for _, tc := range cases {
		got, err := Key(tc.kind, json.RawMessage(tc.args), root)
		require.NoError(t, err, tc.args)
		assert.Equal(t, tc.want, got, tc.args)
	}

	_, err := Key("write_file", json.RawMessage(`{"file_path":`), root)
	assert.ErrorIs(t, err, ErrUndecodableArgs)
	_, err = Key("write_file", json.RawMessage(`["a"]`), root)
	assert.ErrorIs(t, err, ErrUndecodableArgs)
	assert.Equal(t, "/work/src", Directory("write_file:/work/src"))
}

func TestCacheViewIsReadOnly(t *testing.T) {
	parent := NewCache("write_file:/work")
	child := parent.View()

	assert.True(t, child.Has("write_file:/work"))
	child.Add("execute:/work")
	assert.True(t, child.Has("execute:/work"))
	assert.False(t, parent.Has("execute:/work"))
	assert.Equal(t, []string{"write_file:/work"}, parent.Keys())
}

func TestDuplicateKeysPromptOnce(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{Accept()}}
	g := NewGate(Options{Root: root, Prompter: p})
	cache := NewCache()

	batch := []Action{
		action("1", "write_file", `{"file_path":"a.txt","content":"x"}`),
		action("2", "write_file", `{"file_path":"b.txt","content":"y"}`),
	}
	out, err := g.Review(context.Background(), cache, batch)
	require.NoError(t, err)
	assert.Len(t, p.asked, 1)
	assert.Equal(t, []string{"1", "2"}, ids(out.Approved))
	assert.True(t, cache.Has("write_file:/work"))

	// Cached now: a later batch never prompts.
	out, err = g.Review(context.Background(), cache, batch[:1])
	require.NoError(t, err)
	assert.Len(t, p.asked, 1)
	assert.Equal(t, []string{"1"}, ids(out.Approved))
}

func TestNonGatedPassThroughAndOrder(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{Reject(), Accept()}}
	g := NewGate(Options{Root: root, Prompter: p})

	batch := []Action{
		action("r", "read_file", `{"file_path":"a.txt"}`),
		action("w", "write_file", `{"file_path":"out/a.txt"}`),
		action("t", "write_todos", `{"todos":[]}`),
		action("x", "execute", `{"command":"make"}`),
	}
	out, err := g.Review(context.Background(), NewCache(), batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "t", "x"}, ids(out.Approved))
	assert.Equal(t, []string{"w"}, ids(out.Rejected))
	assert.JSONEq(t, `{"file_path":"a.txt"}`, string(out.Approved[0].Args))
}

func TestEditReplacesArgsAndRepromptsGroup(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{
		{Type: ResponseEdit, Args: json.RawMessage(`{"file_path":"a.txt","content":"edited"}`)},
		Reject(),
		Accept(),
	}}
	g := NewGate(Options{Root: root, Prompter: p})
	cache := NewCache()

	batch := []Action{
		action("1", "write_file", `{"file_path":"a.txt","content":"x"}`),
		action("2", "write_file", `{"file_path":"b.txt","content":"y"}`),
		action("3", "write_file", `{"file_path":"c.txt","content":"z"}`),
	}
	out, err := g.Review(context.Background(), cache, batch)
	require.NoError(t, err)
	assert.Len(t, p.asked, 3)
	assert.Equal(t, []string{"1", "3"}, ids(out.Approved))
	assert.JSONEq(t, `{"file_path":"a.txt","content":"edited"}`, string(out.Approved[0].Args))
	assert.Equal(t, []string{"2"}, ids(out.Rejected))
	assert.True(t, cache.Has("write_file:/work"))
}

func TestEditAloneDoesNotCache(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{
		{Type: ResponseEdit, Args: json.RawMessage(`{"command":"make test"}`)},
	}}
	g := NewGate(Options{Root: root, Prompter: p})
	cache := NewCache()

	out, err := g.Review(context.Background(), cache, []Action{action("1", "execute", `{"command":"make"}`)})
	require.NoError(t, err)
	require.Len(t, out.Approved, 1)
	assert.Equal(t, 0, cache.Len())
}

func TestPrompterFailureLeavesCacheUntouched(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{Accept()}}
	g := NewGate(Options{Root: root, Prompter: PrompterFunc(func(ctx context.Context, req Request) (Response, error) {
		if req.Kind == "execute" {
			return Response{}, errors.New("terminal closed")
		}
		return p.Prompt(ctx, req)
	})})
	cache := NewCache()

	_, err := g.Review(context.Background(), cache, []Action{
		action("1", "write_file", `{"file_path":"a.txt"}`),
		action("2", "execute", `{"command":"make"}`),
	})
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestPromptTimeout(t *testing.T) {
	g := NewGate(Options{
		Root:    root,
		Timeout: 10 * time.Millisecond,
		Prompter: PrompterFunc(func(ctx context.Context, _ Request) (Response, error) {
			<-ctx.Done()
			return Response{}, ctx.Err()
		}),
	})
	cache := NewCache()
	_, err := g.Review(context.Background(), cache, []Action{action("1", "execute", `{"command":"sleep 5"}`)})
	require.Error(t, err)
	assert.Equal(t, toolerr.KindTimeout, toolerr.KindOf(err))
	assert.Equal(t, 0, cache.Len())
}

func TestCancelledContext(t *testing.T) {
	p := &scriptedPrompter{}
	g := NewGate(Options{Root: root, Prompter: p})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Review(ctx, NewCache(), []Action{action("1", "ls", `{}`)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.asked)
}

func TestCustomGatedKindsAndJournal(t *testing.T) {
	j := &memJournal{}
	p := &scriptedPrompter{responses: []Response{Accept()}}
	g := NewGate(Options{Root: root, Prompter: p, GatedKinds: []string{"execute"}, Journal: j})
	cache := NewCache("execute:/work/sub")

	out, err := g.Review(context.Background(), cache, []Action{
		action("1", "write_file", `{"file_path":"a.txt"}`),
		action("2", "execute", `{"command":"make","cwd":"sub"}`),
		action("3", "execute", `{"command":"make"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(out.Approved))
	require.Len(t, j.decisions, 2)
	assert.Equal(t, "cache", j.decisions[0].Source)
	assert.Equal(t, "human", j.decisions[1].Source)
	assert.Equal(t, "execute:/work", j.decisions[1].Key)
}

func TestNoPrompterRejects(t *testing.T) {
	g := NewGate(Options{Root: root})
	out, err := g.Review(context.Background(), NewCache(), []Action{action("1", "write_file", `{"file_path":"a"}`)})
	require.NoError(t, err)
	assert.Empty(t, out.Approved)
	assert.Len(t, out.Rejected, 1)
}

func TestRiskyActionsBypassCache(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{Accept(), Accept()}}
	risk := func(a Action) string {
		if a.Kind == "execute" && strings.Contains(string(a.Args), "rm ") {
			return "matches dangerous command policy"
		}
		return ""
	}
	g := NewGate(Options{Root: root, Prompter: p, Risk: risk})
	cache := NewCache("execute:/work")

	out, err := g.Review(context.Background(), cache, []Action{
		action("safe", "execute", `{"command":"ls"}`),
		action("rm", "execute", `{"command":"rm -rf build"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"safe", "rm"}, ids(out.Approved))
	require.Len(t, p.asked, 1)
	assert.Contains(t, p.asked[0].Question, "dangerous")

	_, err = g.Review(context.Background(), cache, []Action{action("rm", "execute", `{"command":"rm -rf build"}`)})
	require.NoError(t, err)
	assert.Len(t, p.asked, 2, "an accepted risky action is not cached")
}

func TestUndecodableArgsAreNeverCached(t *testing.T) {
	p := &scriptedPrompter{responses: []Response{Accept(), Accept()}}
	g := NewGate(Options{Root: root, Prompter: p})
	cache := NewCache()
	bad := action("bad", "write_file", `{"file_path": 7`)

	out, err := g.Review(context.Background(), cache, []Action{bad})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, ids(out.Approved))
	require.Len(t, p.asked, 1)
	assert.Contains(t, p.asked[0].Question, "arguments do not decode")
	assert.False(t, cache.Has("write_file:/"), "the workspace parent is never cached")
	assert.False(t, cache.Has("write_file:/work"))

	_, err = g.Review(context.Background(), cache, []Action{bad})
	require.NoError(t, err)
	assert.Len(t, p.asked, 2)

	// 未受控的操作仍直接放行
	out, err = g.Review(context.Background(), cache, []Action{action("r", "read_file", `{`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, ids(out.Approved))
	assert.Len(t, p.asked, 2)
}
