package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// theme is the palette used for terminal output.
type theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func defaultTheme() theme {
	return theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer writes headings and tables, styled on a terminal and as plain
// tab-aligned text otherwise.
type printer struct {
	w      io.Writer
	styled bool
	theme  theme
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, styled: isTerminal(w), theme: defaultTheme()}
}

func (p *printer) heading(s string) {
	if p.styled {
		s = lipgloss.NewStyle().Bold(true).Foreground(p.theme.Primary).Render(s)
	}
	fmt.Fprintln(p.w, s)
}

// line prints a key/value line.
func (p *printer) line(key, value string) {
	if p.styled {
		key = lipgloss.NewStyle().Foreground(p.theme.Muted).Render(key)
	}
	fmt.Fprintf(p.w, "  %s %s\n", key, value)
}

func (p *printer) warn(s string) {
	if p.styled {
		s = lipgloss.NewStyle().Foreground(p.theme.Warning).Render(s)
	}
	fmt.Fprintln(p.w, s)
}

func (p *printer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		p.line("", "(none)")
		return
	}
	if p.styled {
		header := lipgloss.NewStyle().Bold(true).Foreground(p.theme.Primary).Padding(0, 1)
		cell := lipgloss.NewStyle().Padding(0, 1)
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(p.theme.Muted)).
			Headers(headers...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return header
				}
				return cell
			})
		fmt.Fprintln(p.w, t.Render())
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

// clear wipes the terminal before a watch redraw.
func (p *printer) clear() {
	if p.styled {
		fmt.Fprint(p.w, "\x1b[H\x1b[2J")
	}
}

// age renders the time since t, rounded to the second.
func age(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Round(time.Second).String()
}
