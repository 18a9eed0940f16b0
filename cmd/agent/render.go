package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderAnswer 使用 Glamour 渲染最终回答
// renderAnswer renders the final answer as markdown when markdown is true.
func renderAnswer(content string, markdown bool) string {
	content = strings.TrimSpace(content)
	if content == "" || !markdown {
		return content
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}
