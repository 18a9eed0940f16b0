package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func newBasicLineInput(in io.Reader, out io.Writer) *basicLineInput {
	return &basicLineInput{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

// SetPrompt swaps the prompt of a read already in progress.
func (r *readlineInput) SetPrompt(prompt string) {
	r.instance.SetPrompt(prompt)
	r.instance.Refresh()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

type lineResult struct {
	line string
	err  error
}

// sharedInput lets a read outlive the caller that started it. A caller that
// gives up (the approval prompt timing out) leaves the read pending, and the
// next caller takes it over with its own prompt instead of starting a second
// read on the same terminal.
type sharedInput struct {
	in  lineInput
	out io.Writer

	mu      sync.Mutex
	pending chan lineResult
}

func newSharedInput(in lineInput, out io.Writer) *sharedInput {
	if s, ok := in.(*sharedInput); ok {
		return s
	}
	return &sharedInput{in: in, out: out}
}

func (s *sharedInput) ReadLine(prompt string) (string, error) {
	return s.ReadLineContext(context.Background(), prompt)
}

func (s *sharedInput) ReadLineContext(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	ch := s.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		s.pending = ch
		go func() {
			line, err := s.in.ReadLine(prompt)
			ch <- lineResult{line, err}
		}()
	} else if sp, ok := s.in.(interface{ SetPrompt(string) }); ok {
		sp.SetPrompt(prompt)
	} else if s.out != nil {
		fmt.Fprint(s.out, prompt)
	}
	s.mu.Unlock()

	select {
	case r := <-ch:
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
		}
		s.mu.Unlock()
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *sharedInput) Close() error {
	return s.in.Close()
}

func newLineInput(historyPath string) (lineInput, error) {
	readlineReader, err := newReadlineInput(historyPath)
	if err == nil {
		return readlineReader, nil
	}
	return newBasicLineInput(os.Stdin, os.Stdout), err
}

func printREPLCommands(out io.Writer) {
	if out == nil {
		return
	}
	fmt.Fprintln(out, "commands:")
	for _, cmd := range replCommands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// terminalWidth falls back to 80 columns when stdout is not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
