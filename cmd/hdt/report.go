package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/smithbk/hapi-doc-test/pkg/hdtcore/runtime"
)

// Minimal color palette
var (
	passColor = lipgloss.Color("#73daca")
	failColor = lipgloss.Color("#f7768e")
	dimColor  = lipgloss.Color("#6c6c6c")

	passStyle   = lipgloss.NewStyle().Foreground(passColor)
	failStyle   = lipgloss.NewStyle().Foreground(failColor)
	dimStyle    = lipgloss.NewStyle().Foreground(dimColor)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// renderReport prints the run result tree, one line per executed node, with
// a pass/fail summary footer.
func renderReport(root *runtime.Result) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("test run results") + "\n")

	passed, failed := 0, 0
	var walk func(res *runtime.Result, depth int)
	walk = func(res *runtime.Result, depth int) {
		if res.APIName != "" {
			indent := strings.Repeat("  ", depth)
			mark := passStyle.Render("ok")
			if !res.Passed {
				mark = failStyle.Render("FAIL")
			}
			line := fmt.Sprintf("%s%s %s", indent, mark, res.APIName)
			if res.Status != 0 {
				line += dimStyle.Render(fmt.Sprintf(" [%d]", res.Status))
			}
			if res.Err != nil {
				line += " " + failStyle.Render(res.Err.Error())
			}
			b.WriteString(line + "\n")
			if res.Passed {
				passed++
			} else {
				failed++
			}
			depth++
		}
		for _, c := range res.Children {
			walk(c, depth)
		}
	}
	walk(root, 0)

	summary := passStyle.Render(fmt.Sprintf("%d passed", passed))
	if failed > 0 {
		summary += ", " + failStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	b.WriteString(summary + "\n")
	return b.String()
}
