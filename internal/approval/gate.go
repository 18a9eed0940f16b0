package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepagent/internal/toolerr"
)

type ResponseType string

const (
	ResponseAccept ResponseType = "accept"
	ResponseEdit   ResponseType = "edit"
	ResponseReject ResponseType = "reject"
)

// Action is one proposed operation call.
type Action struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Args json.RawMessage `json:"args"`
}

// Request is what a human sees when a key has not been approved yet.
type Request struct {
	Question string          `json:"question"`
	Kind     string          `json:"kind"`
	Args     json.RawMessage `json:"args"`
	Key      string          `json:"key"`
}

type Response struct {
	Type ResponseType    `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Accept and Reject map a yes/no answer onto a Response.
func Accept() Response { return Response{Type: ResponseAccept} }
func Reject() Response { return Response{Type: ResponseReject} }

// FromBool maps a boolean answer to accept or reject.
func FromBool(ok bool) Response {
	if ok {
		return Accept()
	}
	return Reject()
}

type Prompter interface {
	Prompt(ctx context.Context, req Request) (Response, error)
}

type PrompterFunc func(ctx context.Context, req Request) (Response, error)

func (f PrompterFunc) Prompt(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Decision is one journaled gate outcome.
type Decision struct {
	Key    string
	Kind   string
	Type   ResponseType
	Source string // "human" or "cache"
}

// Journal records gate outcomes. Failures are logged and never block the batch.
type Journal interface {
	RecordApproval(d Decision) error
}

// RiskFunc reports why an action needs a human regardless of the cache. An
// empty reason means no extra risk.
type RiskFunc func(a Action) string

type Options struct {
	GatedKinds []string
	Root       string
	Prompter   Prompter
	Timeout    time.Duration
	Journal    Journal
	Logger     *zap.Logger
	Risk       RiskFunc
}

// Gate filters proposed actions through the approval cache and a human prompter.
type Gate struct {
	gated    map[string]bool
	root     string
	prompter Prompter
	timeout  time.Duration
	journal  Journal
	log      *zap.Logger
	risk     RiskFunc
}

func NewGate(opts Options) *Gate {
	kinds := opts.GatedKinds
	if kinds == nil {
		kinds = DefaultGatedKinds
	}
	gated := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		gated[strings.TrimSpace(k)] = true
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		gated:    gated,
		root:     opts.Root,
		prompter: opts.Prompter,
		timeout:  opts.Timeout,
		journal:  opts.Journal,
		log:      log,
		risk:     opts.Risk,
	}
}

func (g *Gate) Gated(kind string) bool {
	return g.gated[kind]
}

func (g *Gate) Key(a Action) (string, error) {
	return Key(a.Kind, a.Args, g.root)
}

// Outcome is a reviewed batch. Approved keeps proposal order; an edited action
// carries its replacement arguments.
type Outcome struct {
	Approved []Action
	Rejected []Action
}

type verdict int

const (
	verdictPending verdict = iota
	verdictApproved
	verdictRejected
)

// Review partitions actions into pass-through, cache hits and novel keys, asks
// once per novel key and returns the approved subset. Nothing is cached and no
// outcome is returned unless every prompt was answered. Risky actions are asked
// about one by one, skip the cache and are never cached.
func (g *Gate) Review(ctx context.Context, cache *Cache, actions []Action) (Outcome, error) {
	verdicts := make([]verdict, len(actions))
	revised := make([]Action, len(actions))
	copy(revised, actions)

	var order []string
	groups := map[string][]int{}
	var decisions []Decision
	var risky []int
	reasons := map[int]string{}
	keys := map[int]string{}
	for i, a := range actions {
		var reason string
		if g.risk != nil {
			reason = g.risk(a)
		}
		if reason == "" && !g.Gated(a.Kind) {
			verdicts[i] = verdictApproved
			continue
		}
		key, err := g.Key(a)
		if err != nil {
			// 参数无法解析时不缓存，逐次询问
			key = a.Kind + ":" + g.root
			if reason == "" {
				reason = "arguments do not decode"
			}
		}
		if reason != "" {
			risky = append(risky, i)
			reasons[i] = reason
			keys[i] = key
			continue
		}
		if cache.Has(key) {
			verdicts[i] = verdictApproved
			decisions = append(decisions, Decision{Key: key, Kind: a.Kind, Type: ResponseAccept, Source: "cache"})
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var accepted []string
	for _, key := range order {
		idxs := groups[key]
		resp, err := g.ask(ctx, key, actions[idxs[0]], "")
		if err != nil {
			return Outcome{}, err
		}
		decisions = append(decisions, Decision{Key: key, Kind: actions[idxs[0]].Kind, Type: resp.Type, Source: "human"})

		switch resp.Type {
		case ResponseAccept:
			accepted = append(accepted, key)
			for _, i := range idxs {
				verdicts[i] = verdictApproved
			}
		case ResponseEdit:
			verdicts[idxs[0]] = verdictApproved
			revised[idxs[0]].Args = resp.Args
			keyAccepted := false
			for _, i := range idxs[1:] {
				if keyAccepted {
					verdicts[i] = verdictApproved
					continue
				}
				r, err := g.ask(ctx, key, actions[i], "")
				if err != nil {
					return Outcome{}, err
				}
				decisions = append(decisions, Decision{Key: key, Kind: actions[i].Kind, Type: r.Type, Source: "human"})
				switch r.Type {
				case ResponseAccept:
					accepted = append(accepted, key)
					keyAccepted = true
					verdicts[i] = verdictApproved
				case ResponseEdit:
					verdicts[i] = verdictApproved
					revised[i].Args = r.Args
				default:
					verdicts[i] = verdictRejected
				}
			}
		default:
			for _, i := range idxs {
				verdicts[i] = verdictRejected
			}
		}
	}

	for _, i := range risky {
		key := keys[i]
		r, err := g.ask(ctx, key, actions[i], reasons[i])
		if err != nil {
			return Outcome{}, err
		}
		decisions = append(decisions, Decision{Key: key, Kind: actions[i].Kind, Type: r.Type, Source: "human"})
		switch r.Type {
		case ResponseAccept:
			verdicts[i] = verdictApproved
		case ResponseEdit:
			verdicts[i] = verdictApproved
			revised[i].Args = r.Args
		default:
			verdicts[i] = verdictRejected
		}
	}

	cache.Add(accepted...)
	g.record(decisions)

	var out Outcome
	for i, v := range verdicts {
		switch v {
		case verdictApproved:
			out.Approved = append(out.Approved, revised[i])
		case verdictRejected:
			out.Rejected = append(out.Rejected, actions[i])
		}
	}
	return out, nil
}

func (g *Gate) ask(ctx context.Context, key string, a Action, reason string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, gateError(err)
	}
	if g.prompter == nil {
		g.log.Warn("no approval prompter configured; rejecting", zap.String("key", key))
		return Reject(), nil
	}
	pctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	question := fmt.Sprintf("Allow %s in %s?", a.Kind, Directory(key))
	if reason != "" {
		question = fmt.Sprintf("Allow %s in %s (%s)?", a.Kind, Directory(key), reason)
	}
	req := Request{
		Question: question,
		Kind:     a.Kind,
		Args:     a.Args,
		Key:      key,
	}
	resp, err := g.prompter.Prompt(pctx, req)
	if err != nil {
		return Response{}, gateError(err)
	}
	if err := pctx.Err(); err != nil {
		return Response{}, gateError(err)
	}
	switch resp.Type {
	case ResponseAccept, ResponseReject:
	case ResponseEdit:
		if len(resp.Args) == 0 || !json.Valid(resp.Args) {
			return Response{}, toolerr.New(toolerr.KindInvalidArgument, "approval", "edit response must carry valid JSON arguments")
		}
	default:
		return Response{}, toolerr.Newf(toolerr.KindInvalidArgument, "approval", "unknown response type %q", resp.Type)
	}
	g.log.Debug("approval decision",
		zap.String("key", key),
		zap.String("decision", string(resp.Type)),
	)
	return resp, nil
}

func gateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &toolerr.Error{Kind: toolerr.KindTimeout, Op: "approval", Msg: "approval prompt timed out", Err: err}
	}
	return fmt.Errorf("approval prompt: %w", err)
}

func (g *Gate) record(decisions []Decision) {
	if g.journal == nil {
		return
	}
	for _, d := range decisions {
		if err := g.journal.RecordApproval(d); err != nil {
			g.log.Warn("record approval decision", zap.String("key", d.Key), zap.Error(err))
		}
	}
}
