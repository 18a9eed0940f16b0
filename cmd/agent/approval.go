package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"deepagent/internal/approval"
	"deepagent/internal/tools"
)

var (
	approvalBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(0, 1)
	approvalTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	approvalKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// terminalPrompter 在终端询问人工审批
// terminalPrompter asks on the terminal. Concurrent sub-agents share it, so
// one question is shown at a time.
type terminalPrompter struct {
	mu     sync.Mutex
	reader *sharedInput
	out    io.Writer
}

var _ approval.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter(reader lineInput, out io.Writer) *terminalPrompter {
	return &terminalPrompter{reader: newSharedInput(reader, out), out: out}
}

func (p *terminalPrompter) Prompt(ctx context.Context, req approval.Request) (approval.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return approval.Response{}, err
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, formatApprovalBox(req))
	for {
		line, err := p.readLine(ctx, "Allow? [y]es / [e]dit / [N]o: ")
		if err != nil {
			return p.interrupted(err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return approval.Accept(), nil
		case "e", "edit":
			args, err := p.readEditedArgs(ctx)
			if err != nil {
				return p.interrupted(err)
			}
			if args == nil {
				return approval.Reject(), nil
			}
			return approval.Response{Type: approval.ResponseEdit, Args: args}, nil
		case "", "n", "no":
			return approval.Reject(), nil
		default:
			fmt.Fprintln(p.out, "please answer y, e or n")
		}
	}
}

// readEditedArgs asks for replacement JSON arguments until they parse. An
// empty line gives up and returns nil.
func (p *terminalPrompter) readEditedArgs(ctx context.Context) (json.RawMessage, error) {
	for {
		line, err := p.readLine(ctx, "New arguments (JSON, empty to reject): ")
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, nil
		}
		if !json.Valid([]byte(line)) {
			fmt.Fprintln(p.out, "not valid JSON, try again")
			continue
		}
		return json.RawMessage(line), nil
	}
}

// readLine gives up when ctx ends. The read stays pending and the next
// question or REPL prompt takes it over.
func (p *terminalPrompter) readLine(ctx context.Context, prompt string) (string, error) {
	line, err := p.reader.ReadLineContext(ctx, prompt)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "no answer in time, the action was not run; your next line answers the next prompt")
	}
	return line, err
}

// interrupted turns Ctrl-C and EOF into a rejection; context errors are
// passed through so the gate reports a timeout.
func (p *terminalPrompter) interrupted(err error) (approval.Response, error) {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return approval.Reject(), nil
	}
	return approval.Response{}, err
}

func formatApprovalBox(req approval.Request) string {
	lines := []string{
		approvalTitleStyle.Render("Approval required"),
		req.Question,
		approvalKeyStyle.Render("key: " + req.Key),
		"",
		colorizeUnifiedDiff(tools.Preview(req.Kind, req.Args)),
	}
	return approvalBoxStyle.Render(strings.Join(lines, "\n"))
}

func colorizeUnifiedDiff(diff string) string {
	normalized := strings.ReplaceAll(strings.ReplaceAll(diff, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = colorizeDiffLine(line)
	}
	return strings.Join(lines, "\n")
}

func colorizeDiffLine(line string) string {
	if line == "" || !cliEnableColor() {
		return line
	}
	switch {
	case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		return cliStyle(line, cliAnsiYellow)
	case strings.HasPrefix(line, "@@"):
		return cliStyle(line, cliAnsiCyan)
	case strings.HasPrefix(line, "+"):
		return cliStyle(line, cliAnsiGreen)
	case strings.HasPrefix(line, "-"):
		return cliStyle(line, cliAnsiRed)
	default:
		return line
	}
}

const (
	cliAnsiReset  = "\x1b[0m"
	cliAnsiRed    = "\x1b[31m"
	cliAnsiGreen  = "\x1b[32m"
	cliAnsiYellow = "\x1b[33m"
	cliAnsiCyan   = "\x1b[36m"
)

func cliStyle(text, code string) string {
	if text == "" || code == "" || !cliEnableColor() {
		return text
	}
	return code + text + cliAnsiReset
}

func cliEnableColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("AGENT_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}
