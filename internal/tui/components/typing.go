package components

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// typingFrames animate the bot-typing marker.
var typingFrames = []string{"·  ", "·· ", "···", " ··", "  ·", "·· "}

// typingFrameInterval is how long each frame is on screen.
const typingFrameInterval = 250 * time.Millisecond

// TypingIndicator renders the marker shown while a bot reply is pending.
// The frame is derived from elapsed time, so the caller carries no animation
// state; each redraw advances it.
func TypingIndicator(style lipgloss.Style, elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	frame := int(elapsed/typingFrameInterval) % len(typingFrames)
	return style.Render("bot is typing " + typingFrames[frame])
}

// TypingTickInterval is the redraw cadence a view should use while a typing
// indicator is visible.
const TypingTickInterval = typingFrameInterval
