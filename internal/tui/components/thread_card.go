// Package components provides small render helpers for the chat surface.
package components

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// CardStyles carries the styles a thread card renders with.
type CardStyles struct {
	// Active styles the selected or cursor-focused entry.
	Active lipgloss.Style
	// Normal styles every other entry.
	Normal lipgloss.Style
	// Age styles the relative-time line under the title.
	Age lipgloss.Style
}

// ThreadCard holds the data for one sidebar thread entry.
type ThreadCard struct {
	// Title is the thread title, truncated to Width.
	Title string
	// UpdatedAt is the thread's last activity time.
	UpdatedAt time.Time
	// Selected marks the thread whose log is on screen.
	Selected bool
	// Focused marks the entry under the sidebar cursor.
	Focused bool
	// Width bounds the rendered title in cells.
	Width int
}

// Render draws the card as two lines: marker plus title, then the
// humanized age.
func (c ThreadCard) Render(st CardStyles) string {
	marker := "  "
	if c.Focused {
		marker = "> "
	}

	style := st.Normal
	if c.Focused || c.Selected {
		style = st.Active
	}

	title := Truncate(c.Title, c.Width-len(marker))
	line := style.Render(marker + title)

	age := ""
	if !c.UpdatedAt.IsZero() {
		age = st.Age.Render("  " + humanize.Time(c.UpdatedAt))
	}
	return line + "\n" + age
}

// Truncate shortens s to at most limit runes, ellipsized. Slicing on runes
// keeps multibyte titles intact.
func Truncate(s string, limit int) string {
	if limit <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
