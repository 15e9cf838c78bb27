// Package tui is the terminal view of one ticket chat. It renders the room
// kept by a session controller and turns key presses into controller,
// composer and socket calls.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/chat/session"
	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

const actionTimeout = 15 * time.Second

// Session is the part of *session.Controller the view drives.
type Session interface {
	Load(ctx context.Context) error
	Assign(ctx context.Context) error
	Close(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Teardown()
	Room() *session.Room
	Viewer() access.Viewer
	Info() model.TicketInfo
	State() access.State
	Connected() bool
	TicketID() uint64
}

// Sender is the part of *composer.Composer the view drives.
type Sender interface {
	SendPlain(text string, replyTo uint64) bool
	SendMediaFile(ctx context.Context, path, caption string, replyTo uint64) error
}

// Deleter asks the backend to delete a message; *socket.Manager satisfies it.
type Deleter interface {
	DeleteMessage(messageID uint64)
}

type (
	loadedMsg      struct{ err error }
	roomChangedMsg struct{}
	actionDoneMsg  struct {
		status string
		err    error
	}
)

type Model struct {
	sess    Session
	sender  Sender
	deleter Deleter
	log     *logger.Logger

	changes chan tea.Msg

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	theme    theme

	width, height int
	snap          session.Snapshot
	loaded        bool
	replyTo       uint64
	err           error
	status        string
	statusErr     bool
	busy          bool
}

func New(sess Session, sender Sender, deleter Deleter, log *logger.Logger) *Model {
	if log == nil {
		log = logger.Nop()
	}
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "Type a message. /reply <id>, /delete <id>, /image <path> [caption], /cancel"
	input.Focus()

	m := &Model{
		sess:     sess,
		sender:   sender,
		deleter:  deleter,
		log:      log.Named("tui"),
		changes:  make(chan tea.Msg, 1),
		input:    input,
		timeline: viewport.New(0, 0),
		sidebar:  viewport.New(0, 0),
		theme:    newTheme(),
		status:   "loading ticket...",
	}
	// Changes are coalesced: one pending notification is enough to re-read the room.
	sess.Room().OnChange(func() {
		select {
		case m.changes <- roomChangedMsg{}:
		default:
		}
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadCmd(), waitRoom(m.changes))
}

func waitRoom(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return loadedMsg{err: m.sess.Load(ctx)}
	}
}

func (m *Model) action(verb string, fn func(ctx context.Context) error) tea.Cmd {
	m.busy = true
	m.setStatus(verb+"...", false)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return actionDoneMsg{err: fmt.Errorf("%s: %w", verb, err)}
		}
		return actionDoneMsg{status: verb + ": done"}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
	case loadedMsg:
		if msg.err != nil {
			// Without metadata and history there is no view to show.
			m.log.Warn("load ticket", zap.Error(msg.err))
			m.err = fmt.Errorf("load ticket #%d: %w", m.sess.TicketID(), msg.err)
			m.sess.Teardown()
			return m, tea.Quit
		}
		m.loaded = true
		m.snap = m.sess.Room().Snapshot()
		m.setStatus(m.connectionStatus(), false)
		m.render()
	case roomChangedMsg:
		m.snap = m.sess.Room().Snapshot()
		m.render()
		cmds = append(cmds, waitRoom(m.changes))
	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.log.Warn("action failed", zap.Error(msg.err))
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(msg.status+" · "+m.connectionStatus(), false)
		}
		m.render()
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Cmd, bool) {
	switch k.String() {
	case "ctrl+c", "esc":
		m.sess.Teardown()
		return tea.Quit, true
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(k)
		return cmd, true
	}
	if !m.loaded || m.busy {
		return nil, k.Type != tea.KeyRunes && k.Type != tea.KeyBackspace && k.Type != tea.KeySpace
	}
	switch k.String() {
	case "ctrl+a":
		if !m.sess.State().CanAssign() {
			m.setStatus("this ticket cannot be taken", true)
			return nil, true
		}
		return m.action("assign", m.sess.Assign), true
	case "ctrl+x":
		if !m.sess.State().CanClose() {
			m.setStatus("this ticket cannot be closed by you", true)
			return nil, true
		}
		return m.action("close", m.sess.Close), true
	case "ctrl+r":
		return m.action("reconnect", m.sess.Reconnect), true
	case "enter":
		text := m.input.Value()
		m.input.Reset()
		return m.submit(text), true
	}
	return nil, false
}

// submit runs a slash command or sends text as a message.
func (m *Model) submit(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		if m.sender.SendPlain(text, m.replyTo) {
			m.replyTo = 0
			m.setStatus(m.connectionStatus(), false)
		}
		return nil
	}

	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/reply":
		id, ok := m.messageArg(rest)
		if !ok {
			return nil
		}
		m.replyTo = id
		m.setStatus(fmt.Sprintf("replying to #%d (/cancel to stop)", id), false)
	case "/cancel":
		m.replyTo = 0
		m.setStatus(m.connectionStatus(), false)
	case "/delete":
		id, ok := m.messageArg(rest)
		if !ok {
			return nil
		}
		m.deleter.DeleteMessage(id)
		m.setStatus(m.connectionStatus(), false)
	case "/image":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			m.setStatus("usage: /image <path> [caption]", true)
			return nil
		}
		replyTo := m.replyTo
		m.replyTo = 0
		return m.action("send image", func(ctx context.Context) error {
			return m.sender.SendMediaFile(ctx, path, strings.TrimSpace(caption), replyTo)
		})
	case "/quit":
		m.sess.Teardown()
		return tea.Quit
	default:
		m.setStatus("unknown command "+cmd, true)
	}
	return nil
}

func (m *Model) messageArg(arg string) (uint64, bool) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		m.setStatus("expected a message id, got "+strconv.Quote(arg), true)
		return 0, false
	}
	msg, ok := m.sess.Room().Message(id)
	if !ok {
		m.setStatus(fmt.Sprintf("no message #%d in this chat", id), true)
		return 0, false
	}
	if msg.Deleted() {
		m.setStatus(fmt.Sprintf("message #%d is deleted", id), true)
		return 0, false
	}
	return id, true
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) connectionStatus() string {
	st := m.sess.State()
	switch {
	case m.sess.Connected():
		return "connected"
	case st.Status == model.TicketStatusClosed:
		return "ticket closed, read only"
	case st.CanAssign():
		return "not assigned: ctrl+a to take it"
	case !st.ShouldConnect():
		return "read only"
	}
	return "disconnected: ctrl+r to reconnect"
}

// ReplyTo is the message the next send will answer, zero for none.
func (m *Model) ReplyTo() uint64 { return m.replyTo }

// Status is the current footer line.
func (m *Model) Status() string { return m.status }

// Err is why the view gave up, nil after a normal quit.
func (m *Model) Err() error { return m.err }
