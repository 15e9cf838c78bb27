package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/psds-microservice/support-chat/internal/model"
)

const sidebarWidth = 24

type theme struct {
	header    lipgloss.Style
	panel     lipgloss.Style
	title     lipgloss.Style
	own       lipgloss.Style
	peer      lipgloss.Style
	deleted   lipgloss.Style
	meta      lipgloss.Style
	status    lipgloss.Style
	statusErr lipgloss.Style
	help      lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		title:     lipgloss.NewStyle().Foreground(blue).Bold(true),
		own:       lipgloss.NewStyle().Foreground(mint).Bold(true),
		peer:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		deleted:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		meta:      lipgloss.NewStyle().Foreground(muted),
		status:    lipgloss.NewStyle().Foreground(blue),
		statusErr: lipgloss.NewStyle().Foreground(pink).Bold(true),
		help:      lipgloss.NewStyle().Foreground(muted),
	}
}

// showSidebar: presence is operator information, shown to staff only.
func (m *Model) showSidebar() bool {
	return m.sess.Viewer().Role.Staff()
}

func (m *Model) resize() {
	if m.width == 0 {
		return
	}
	// header 3, footer 3 (status + input + help), panel borders 2
	h := m.height - 8
	if h < 3 {
		h = 3
	}
	w := m.width - 2
	if m.showSidebar() {
		w -= sidebarWidth + 2
		m.sidebar.Width = sidebarWidth
		m.sidebar.Height = h
	}
	if w < 20 {
		w = 20
	}
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = m.width - 4
	m.render()
}

func (m *Model) render() {
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(m.renderTimeline())
	if atBottom || m.timeline.YOffset == 0 {
		m.timeline.GotoBottom()
	}
	if m.showSidebar() {
		m.sidebar.SetContent(m.renderSidebar())
	}
}

func (m *Model) senderName(id uint64) (string, bool) {
	info := m.sess.Info()
	switch {
	case id == m.sess.Viewer().ID:
		return "you", true
	case id == info.UserID:
		if info.UserName != "" {
			return info.UserName, false
		}
		return "user", false
	case info.OperatorID != nil && id == *info.OperatorID && info.OperatorName != nil:
		return *info.OperatorName, false
	}
	return fmt.Sprintf("operator #%d", id), false
}

func (m *Model) renderTimeline() string {
	if len(m.snap.Messages) == 0 {
		return m.theme.meta.Render("no messages yet")
	}
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.renderMessage(msg))
	}
	return b.String()
}

func (m *Model) renderMessage(msg model.Message) string {
	name, own := m.senderName(msg.SenderID)
	style := m.theme.peer
	if own {
		style = m.theme.own
	}
	head := m.theme.meta.Render(fmt.Sprintf("#%d %s", msg.ID, msg.CreatedAt.Local().Format("15:04"))) + " " + style.Render(name)
	if msg.Deleted() {
		return head + " " + m.theme.deleted.Render("message deleted")
	}
	var b strings.Builder
	b.WriteString(head)
	if msg.ReplyToID != nil {
		b.WriteString(m.theme.meta.Render(fmt.Sprintf(" ↪ #%d", *msg.ReplyToID)))
	}
	if msg.MediaURL != nil {
		b.WriteString(" " + m.theme.title.Render("[image]") + " " + m.theme.meta.Render(*msg.MediaURL))
	}
	if msg.Content != "" {
		b.WriteString("\n  " + msg.Content)
	}
	return b.String()
}

func (m *Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("Operators online"))
	if len(m.snap.Presence) == 0 {
		b.WriteString("\n" + m.theme.meta.Render("none"))
	}
	for _, id := range m.snap.Presence {
		name, _ := m.senderName(id)
		b.WriteString("\n• " + name)
	}
	return b.String()
}

func (m *Model) header() string {
	info := m.sess.Info()
	st := m.sess.State()
	subject := info.Subject
	if subject == "" {
		subject = "ticket"
	}
	line := fmt.Sprintf("#%d %s · %s · %s", m.sess.TicketID(), subject, info.Status.Label(), st.Relationship)
	return m.theme.header.Width(max(m.width-2, 20)).Render(line)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	body := m.theme.panel.Render(m.timeline.View())
	if m.showSidebar() {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, m.theme.panel.Render(m.sidebar.View()))
	}
	status := m.theme.status.Render(m.status)
	if m.statusErr {
		status = m.theme.statusErr.Render(m.status)
	}
	help := m.theme.help.Render("enter send · ctrl+a take · ctrl+x close · ctrl+r reconnect · esc quit")
	return lipgloss.JoinVertical(lipgloss.Left, m.header(), body, status, m.input.View(), help)
}
