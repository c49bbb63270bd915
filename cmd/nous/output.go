package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
)

var (
	errorColor   = lipgloss.Color("#EF4444") // Red
	warningColor = lipgloss.Color("#F59E0B") // Amber
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

func label(w io.Writer, text string, color lipgloss.Color) string {
	return lipgloss.NewRenderer(w).NewStyle().Foreground(color).Bold(true).Render(text)
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", label(w, "error:", errorColor), describe(err))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", label(w, "warning:", warningColor), fmt.Sprintf(format, args...))
}

// describe phrases well-known failures for the terminal.
func describe(err error) string {
	var nameErr *apperr.NameError
	switch {
	case errors.As(err, &nameErr) && nameErr.Ambiguous:
		msg := fmt.Sprintf("%q is ambiguous; candidates:", nameErr.Name)
		for _, c := range nameErr.Candidates {
			msg += "\n  " + c
		}
		return msg
	case errors.As(err, &nameErr):
		return fmt.Sprintf("no node named %q", nameErr.Name)
	case errors.Is(err, apperr.ErrNotARealm):
		return err.Error() + " (run `nous init` to create one)"
	case errors.Is(err, context.Canceled):
		return "interrupted; the last committed index is unchanged"
	default:
		return err.Error()
	}
}

// warnLinks reports the links of a forward query that reach no single node.
func warnLinks(w io.Writer, source models.Node, rs *realm.ResultSet) {
	for _, l := range rs.Unresolved {
		printWarning(w, "%s:%d: unresolved link [[%s]]", source.Path, l.Link.Line, l.Link.Target)
	}
	for _, l := range rs.Ambiguous {
		printWarning(w, "%s:%d: ambiguous link [[%s]] matches %d nodes", source.Path, l.Link.Line, l.Link.Target, len(l.Resolution.IDs))
	}
}

func formatStats(w io.Writer, s models.Stats) string {
	line := fmt.Sprintf("generation %d: %d created, %d modified, %d deleted, %d renamed",
		s.Generation, s.Created, s.Modified, s.Deleted, s.Renamed)
	if s.Unresolved+s.Ambiguous > 0 {
		line += fmt.Sprintf("; %d unresolved, %d ambiguous", s.Unresolved, s.Ambiguous)
	}
	return line + " " + lipgloss.NewRenderer(w).NewStyle().Foreground(mutedColor).Render(fmt.Sprintf("(%s)", s.Duration.Round(time.Millisecond)))
}
