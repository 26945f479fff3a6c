// Package tui provides the terminal chat surface. It consumes the chat core
// exclusively through its public operations and the event publisher; no core
// state is mutated here.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"chatrelay/internal/engine"
	"chatrelay/internal/events"
	"chatrelay/internal/models"
	"chatrelay/internal/session"
	"chatrelay/internal/threads"
	"chatrelay/internal/tui/components"
)

const (
	sidebarWidth = 28
	eventBuffer  = 256
)

type focusArea int

const (
	focusSidebar focusArea = iota
	focusInput
	focusNewThread
)

// coreEventMsg wraps a core change notification for bubbletea.
type coreEventMsg events.Event

type errMsg struct{ err error }

// typingTickMsg drives the typing-indicator animation while a bot reply is
// pending.
type typingTickMsg time.Time

// Model is the bubbletea model for the chat surface.
type Model struct {
	eng     *engine.Engine
	manager *threads.Manager
	coord   *session.Coordinator
	pub     events.Publisher
	ownerID string

	eventCh chan events.Event
	subID   string

	threadList []models.Thread
	cursor     int
	log        []models.Message

	input     textarea.Model
	newThread textarea.Model
	vp        viewport.Model
	focus     focusArea

	width  int
	height int
	status string
	ready  bool
}

// New creates the chat surface bound to the given core components.
func New(eng *engine.Engine, manager *threads.Manager, coord *session.Coordinator, pub events.Publisher, ownerID string) *Model {
	input := textarea.New()
	input.Placeholder = "Type a message..."
	input.SetHeight(1)
	input.ShowLineNumbers = false
	input.CharLimit = 0

	newThread := textarea.New()
	newThread.Placeholder = "New thread title"
	newThread.SetHeight(1)
	newThread.ShowLineNumbers = false

	m := &Model{
		eng:       eng,
		manager:   manager,
		coord:     coord,
		pub:       pub,
		ownerID:   ownerID,
		eventCh:   make(chan events.Event, eventBuffer),
		subID:     "tui-" + uuid.New().String(),
		input:     input,
		newThread: newThread,
		focus:     focusSidebar,
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	_ = m.pub.Subscribe(m.subID, events.Filter{}, func(event events.Event) {
		select {
		case m.eventCh <- event:
		default:
			// Never block a core mutation on a slow render loop.
		}
	})
	return tea.Batch(m.refreshThreads, m.waitForEvent)
}

// refreshThreads loads the thread list from the store.
func (m *Model) refreshThreads() tea.Msg {
	if _, err := m.manager.List(context.Background(), m.ownerID); err != nil {
		return errMsg{err}
	}
	return nil
}

// waitForEvent delivers the next core event to Update.
func (m *Model) waitForEvent() tea.Msg {
	return coreEventMsg(<-m.eventCh)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case coreEventMsg:
		m.applyEvent(events.Event(msg))
		return m, tea.Batch(m.waitForEvent, m.typingTick())

	case typingTickMsg:
		m.renderLog()
		return m, m.typingTick()

	case errMsg:
		m.status = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateFocused(msg)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.pub.Unsubscribe(m.subID)
		return m, tea.Quit

	case "tab":
		if m.focus == focusSidebar {
			m.setFocus(focusInput)
		} else if m.focus == focusInput {
			m.setFocus(focusSidebar)
		}
		return m, nil

	case "ctrl+n":
		m.setFocus(focusNewThread)
		return m, nil

	case "esc":
		if m.focus == focusNewThread {
			m.newThread.Reset()
			m.setFocus(focusSidebar)
		}
		return m, nil
	}

	switch m.focus {
	case focusSidebar:
		return m.handleSidebarKey(msg)
	case focusNewThread:
		if msg.String() == "enter" {
			title := strings.TrimSpace(m.newThread.Value())
			m.newThread.Reset()
			m.setFocus(focusSidebar)
			if title == "" {
				return m, nil
			}
			return m, func() tea.Msg {
				if _, err := m.manager.Create(context.Background(), m.ownerID, title); err != nil {
					return errMsg{err}
				}
				return nil
			}
		}
	case focusInput:
		if msg.String() == "enter" {
			text := m.input.Value()
			m.input.Reset()
			threadID := m.coord.Selected()
			if strings.TrimSpace(text) == "" || threadID == "" {
				return m, nil
			}
			return m, func() tea.Msg {
				if err := m.eng.SubmitUserMessage(context.Background(), threadID, text); err != nil {
					return errMsg{err}
				}
				return nil
			}
		}
	}

	return m.updateFocused(msg)
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.threadList)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor < len(m.threadList) {
			threadID := m.threadList[m.cursor].ID
			m.setFocus(focusInput)
			return m, func() tea.Msg {
				if err := m.coord.Select(context.Background(), threadID); err != nil {
					return errMsg{err}
				}
				return nil
			}
		}
	case "ctrl+d", "delete":
		if m.cursor < len(m.threadList) {
			threadID := m.threadList[m.cursor].ID
			return m, func() tea.Msg {
				if err := m.coord.Delete(context.Background(), threadID); err != nil {
					return errMsg{err}
				}
				return nil
			}
		}
	}
	return m, nil
}

func (m *Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch m.focus {
	case focusInput:
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case focusNewThread:
		m.newThread, cmd = m.newThread.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// applyEvent folds a core change notification into the view state.
func (m *Model) applyEvent(event events.Event) {
	switch event.Type {
	case events.TypeThreadListChanged:
		m.threadList = event.Threads
		if m.cursor >= len(m.threadList) {
			m.cursor = max(0, len(m.threadList)-1)
		}
	case events.TypeLogReplaced, events.TypeMessageAppended,
		events.TypeMessageUpdated, events.TypeMessageRemoved:
		m.log = m.eng.Log()
	case events.TypeSelectionChanged:
		m.log = m.eng.Log()
		m.status = ""
	}
	m.renderLog()
}

func (m *Model) setFocus(focus focusArea) {
	m.focus = focus
	m.input.Blur()
	m.newThread.Blur()
	switch focus {
	case focusInput:
		m.input.Focus()
	case focusNewThread:
		m.newThread.Focus()
	}
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	logWidth := m.width - sidebarWidth - 3
	logHeight := m.height - 5
	if !m.ready {
		m.vp = viewport.New(logWidth, logHeight)
		m.ready = true
	} else {
		m.vp.Width = logWidth
		m.vp.Height = logHeight
	}
	m.input.SetWidth(logWidth)
	m.newThread.SetWidth(sidebarWidth - 2)
	m.renderLog()
}

func (m *Model) renderLog() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.log {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n")
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

// typingTick schedules the next animation frame while a pending bot reply
// is on screen, and stops ticking once it resolves.
func (m *Model) typingTick() tea.Cmd {
	for _, msg := range m.log {
		if msg.Sender == models.SenderBot && msg.Status == models.StatusPending {
			return tea.Tick(components.TypingTickInterval, func(t time.Time) tea.Msg {
				return typingTickMsg(t)
			})
		}
	}
	return nil
}

func renderMessage(msg models.Message) string {
	prefix := "bot"
	style := botMsgStyle
	if msg.Sender == models.SenderUser {
		prefix = "you"
		style = userMsgStyle
	}

	switch msg.Status {
	case models.StatusPending:
		if msg.Sender == models.SenderBot {
			return components.TypingIndicator(pendingStyle, time.Since(msg.CreatedAt))
		}
		style = pendingStyle
	case models.StatusFailed:
		style = failedStyle
	}

	age := ""
	if !msg.CreatedAt.IsZero() {
		age = timestampStyle.Render(" · " + humanize.Time(msg.CreatedAt))
	}
	return style.Render(fmt.Sprintf("%s: %s", prefix, msg.Content)) + age
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	sidebar := m.viewSidebar()
	main := m.viewMain()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebarStyle.Render(sidebar), main)

	status := m.status
	if status == "" {
		status = "tab: switch focus · ctrl+n: new thread · ctrl+d: delete · ctrl+c: quit"
	}
	return body + "\n" + statusStyle.Render(status)
}

func (m *Model) viewSidebar() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Threads"))
	b.WriteString("\n\n")

	if m.focus == focusNewThread {
		b.WriteString(m.newThread.View())
		b.WriteString("\n\n")
	}

	if len(m.threadList) == 0 {
		b.WriteString(statusStyle.Render("No threads yet"))
	}
	cardStyles := components.CardStyles{
		Active: selectedThreadStyle,
		Normal: threadStyle,
		Age:    timestampStyle,
	}
	selected := m.coord.Selected()
	for i, t := range m.threadList {
		card := components.ThreadCard{
			Title:     t.Title,
			UpdatedAt: t.UpdatedAt,
			Selected:  t.ID == selected,
			Focused:   i == m.cursor && m.focus == focusSidebar,
			Width:     sidebarWidth - 2,
		}
		b.WriteString(card.Render(cardStyles))
		b.WriteString("\n")
	}
	return lipgloss.NewStyle().Width(sidebarWidth).Height(m.height - 2).Render(b.String())
}

func (m *Model) viewMain() string {
	if m.coord.Selected() == "" {
		empty := lipgloss.NewStyle().
			Width(m.vp.Width).
			Height(m.vp.Height).
			Align(lipgloss.Center, lipgloss.Center).
			Render(statusStyle.Render("Please select a chat"))
		return empty + "\n" + m.input.View()
	}
	return m.vp.View() + "\n" + m.input.View()
}
