package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/staticobf/internal/rebuild"
)

var (
	summaryHead = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	summaryArch = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func renderSummary(res *rebuild.Result) string {
	if res == nil {
		return ""
	}
	lines := make([]string, 0, len(res.Archs)+1)
	for _, arch := range res.Archs {
		lines = append(lines, summaryArch.Render(fmt.Sprintf("%-8s %s", arch, res.Outputs[arch])))
	}
	lines = append(lines, fmt.Sprintf("final    %s", res.Final))
	head := summaryHead.Render(fmt.Sprintf("%s · %d arch · %s", appName, len(res.Archs), res.Elapsed.Round(time.Millisecond)))
	return summaryBox.Render(head + "\n" + strings.Join(lines, "\n"))
}
