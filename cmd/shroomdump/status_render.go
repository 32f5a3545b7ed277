package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"shroomdump/internal/preflight"
)

// checkState classifies one doctor check for display.
type checkState int

const (
	checkPassed checkState = iota
	// checkSkipped is a missing dependency that only a decoder rebuild needs.
	checkSkipped
	checkFailed
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBold   = "\x1b[1m"
)

var doctorSections = []struct {
	category string
	title    string
}{
	{preflight.CategoryTools, "Decoder toolchain"},
	{preflight.CategoryDirectories, "Directories"},
	{preflight.CategoryEndpoints, "Endpoints"},
}

func stateOf(result preflight.Result) checkState {
	switch {
	case !result.Passed:
		return checkFailed
	case result.Optional:
		return checkSkipped
	default:
		return checkPassed
	}
}

func (s checkState) mark() string {
	switch s {
	case checkFailed:
		return "FAIL"
	case checkSkipped:
		return "skip"
	default:
		return "ok"
	}
}

func (s checkState) color() string {
	switch s {
	case checkFailed:
		return ansiRed
	case checkSkipped:
		return ansiYellow
	default:
		return ansiGreen
	}
}

// renderDoctorReport writes the checks grouped by category, one line per
// check, followed by a tally. Empty categories are left out.
func renderDoctorReport(w io.Writer, results []preflight.Result, colorize bool) {
	width := 0
	for _, result := range results {
		width = max(width, len(result.Name))
	}

	counts := map[checkState]int{}
	for _, section := range doctorSections {
		var rows []preflight.Result
		for _, result := range results {
			if result.Category == section.category {
				rows = append(rows, result)
			}
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintln(w, paint(section.title, ansiBold, colorize))
		for _, result := range rows {
			state := stateOf(result)
			counts[state]++
			mark := paint(fmt.Sprintf("%-6s", "["+state.mark()+"]"), state.color(), colorize)
			fmt.Fprintf(w, "  %s %-*s  %s\n", mark, width, result.Name, strings.TrimSpace(result.Detail))
		}
	}
	fmt.Fprintf(w, "%d passed, %d skipped, %d failed\n", counts[checkPassed], counts[checkSkipped], counts[checkFailed])
}

func paint(text, color string, colorize bool) string {
	if !colorize {
		return text
	}
	return color + text + ansiReset
}

// isTerminal reports whether writer is an interactive terminal.
func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
