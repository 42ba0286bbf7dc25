package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"prism-board/board"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
)

// Success prints msg in green with a checkmark.
func Success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints msg in yellow.
func Warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! %s\n", fmt.Sprintf(format, a...))
}

// Error prints a titled explanation with suggestions to stderr and returns a
// short error for cobra, which is configured not to print it again.
func Error(title, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, s := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, s)
			}
		}
	}
	return fmt.Errorf("%s", title)
}

// Render draws a board snapshot column by column.
func Render(w io.Writer, snap board.Snapshot) {
	cyan.Fprintf(w, "%s\n", snap.Board.Title)
	faint.Fprintf(w, "%s\n", strings.Repeat("─", max(len(snap.Board.Title), 8)))
	if len(snap.Columns) == 0 {
		faint.Fprintf(w, "(no columns)\n")
		return
	}
	for _, col := range snap.Columns {
		tasks := snap.TasksByColumn(col.ID)
		yellow.Fprintf(w, "%s", col.Title)
		faint.Fprintf(w, " (%d) %s\n", len(tasks), col.ID)
		for _, t := range tasks {
			fmt.Fprintf(w, "  • %s", t.Title)
			faint.Fprintf(w, " %s\n", t.ID)
			if t.Description != "" {
				faint.Fprintf(w, "    %s\n", t.Description)
			}
		}
	}
}
