package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/chat/session"
	"github.com/psds-microservice/support-chat/internal/model"
)

type fakeSession struct {
	room      *session.Room
	viewer    access.Viewer
	info      model.TicketInfo
	connected bool
	loadErr   error
	assigned  int
	closed    int
	torn      int
}

func (f *fakeSession) Load(context.Context) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.room.Reset([]model.Message{
		{ID: 1, SenderID: f.info.UserID, Content: "printer is jammed", CreatedAt: time.Now()},
	})
	f.connected = access.StateOf(f.viewer, f.info).ShouldConnect()
	return nil
}

func (f *fakeSession) Assign(context.Context) error {
	f.assigned++
	op := f.viewer.ID
	f.info.Status = model.TicketStatusActive
	f.info.OperatorID = &op
	f.connected = true
	return nil
}

func (f *fakeSession) Close(context.Context) error {
	f.closed++
	f.info.Status = model.TicketStatusClosed
	f.connected = false
	return nil
}

func (f *fakeSession) Reconnect(context.Context) error { return nil }
func (f *fakeSession) Teardown()                       { f.torn++ }
func (f *fakeSession) Room() *session.Room             { return f.room }
func (f *fakeSession) Viewer() access.Viewer           { return f.viewer }
func (f *fakeSession) Info() model.TicketInfo          { return f.info }
func (f *fakeSession) State() access.State             { return access.StateOf(f.viewer, f.info) }
func (f *fakeSession) Connected() bool                 { return f.connected }
func (f *fakeSession) TicketID() uint64                { return f.info.ID }

type sent struct {
	text    string
	replyTo uint64
	path    string
}

type fakeSender struct {
	sent    []sent
	deleted []uint64
}

func (f *fakeSender) SendPlain(text string, replyTo uint64) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	f.sent = append(f.sent, sent{text: text, replyTo: replyTo})
	return true
}

func (f *fakeSender) SendMediaFile(_ context.Context, path, caption string, replyTo uint64) error {
	f.sent = append(f.sent, sent{text: caption, replyTo: replyTo, path: path})
	return nil
}

func (f *fakeSender) DeleteMessage(id uint64) { f.deleted = append(f.deleted, id) }

func newTestModel(t *testing.T, viewer access.Viewer, info model.TicketInfo) (*Model, *fakeSession, *fakeSender) {
	t.Helper()
	sess := &fakeSession{room: session.NewRoom(), viewer: viewer, info: info}
	sender := &fakeSender{}
	m := New(sess, sender, sender, nil)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(m.loadCmd()())
	return m, sess, sender
}

func typeLine(m *Model, line string) tea.Cmd {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func ownTicket() (access.Viewer, model.TicketInfo) {
	op := uint64(7)
	return access.Viewer{ID: 1, Role: model.RoleUser},
		model.TicketInfo{ID: 5, Subject: "Printer", Status: model.TicketStatusActive, UserID: 1, UserName: "Alice", OperatorID: &op}
}

func TestSendAndReply(t *testing.T) {
	v, info := ownTicket()
	m, _, sender := newTestModel(t, v, info)

	typeLine(m, "hello")
	typeLine(m, "/reply 1")
	if m.ReplyTo() != 1 {
		t.Fatalf("reply target = %d, want 1", m.ReplyTo())
	}
	typeLine(m, "thanks")
	if m.ReplyTo() != 0 {
		t.Fatalf("reply target must clear after a send")
	}
	want := []sent{{text: "hello"}, {text: "thanks", replyTo: 1}}
	if len(sender.sent) != len(want) {
		t.Fatalf("sent %+v, want %+v", sender.sent, want)
	}
	for i := range want {
		if sender.sent[i] != want[i] {
			t.Fatalf("sent[%d] = %+v, want %+v", i, sender.sent[i], want[i])
		}
	}
}

func TestReplyToUnknownMessage(t *testing.T) {
	v, info := ownTicket()
	m, _, _ := newTestModel(t, v, info)
	typeLine(m, "/reply 99")
	if m.ReplyTo() != 0 || !strings.Contains(m.Status(), "#99") {
		t.Fatalf("reply=%d status=%q", m.ReplyTo(), m.Status())
	}
}

func TestDeleteCommand(t *testing.T) {
	v, info := ownTicket()
	m, _, sender := newTestModel(t, v, info)
	typeLine(m, "/delete 1")
	if len(sender.deleted) != 1 || sender.deleted[0] != 1 {
		t.Fatalf("deleted %v, want [1]", sender.deleted)
	}
}

func TestImageCommand(t *testing.T) {
	v, info := ownTicket()
	m, _, sender := newTestModel(t, v, info)
	cmd := typeLine(m, "/image /tmp/shot.png the error")
	if cmd == nil {
		t.Fatalf("image send must run as a command")
	}
	m.Update(cmd())
	if len(sender.sent) != 1 || sender.sent[0].path != "/tmp/shot.png" || sender.sent[0].text != "the error" {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
}

func TestSendWhileDisconnectedIsNotAnError(t *testing.T) {
	v := access.Viewer{ID: 8, Role: model.RoleOperator}
	_, info := ownTicket()
	m, sess, sender := newTestModel(t, v, info)
	if sess.connected {
		t.Fatalf("a foreign operator must not be connected")
	}
	typeLine(m, "hi")
	typeLine(m, "/delete 1")
	if len(sender.sent) != 1 || sender.sent[0].text != "hi" || len(sender.deleted) != 1 {
		t.Fatalf("calls must reach the sender: sent=%+v deleted=%v", sender.sent, sender.deleted)
	}
	if m.statusErr || m.Status() != "read only" {
		t.Fatalf("status = %q (err=%v)", m.Status(), m.statusErr)
	}
}

func TestAssignKey(t *testing.T) {
	v := access.Viewer{ID: 8, Role: model.RoleOperator}
	info := model.TicketInfo{ID: 5, Status: model.TicketStatusNew, UserID: 1}
	m, sess, _ := newTestModel(t, v, info)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	if cmd == nil {
		t.Fatalf("ctrl+a must start an assign")
	}
	m.Update(cmd())
	if sess.assigned != 1 || !strings.Contains(m.Status(), "connected") {
		t.Fatalf("assigned=%d status=%q", sess.assigned, m.Status())
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	if cmd != nil || sess.assigned != 1 {
		t.Fatalf("an active ticket cannot be taken again")
	}
}

func TestCloseKey(t *testing.T) {
	v, info := ownTicket()
	m, sess, _ := newTestModel(t, v, info)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	if cmd == nil {
		t.Fatalf("ctrl+x must start a close")
	}
	m.Update(cmd())
	if sess.closed != 1 || !strings.Contains(m.Status(), "read only") {
		t.Fatalf("closed=%d status=%q", sess.closed, m.Status())
	}
}

func TestLoadFailureExits(t *testing.T) {
	v, info := ownTicket()
	sess := &fakeSession{room: session.NewRoom(), viewer: v, info: info, loadErr: errors.New("boom")}
	m := New(sess, &fakeSender{}, &fakeSender{}, nil)
	_, cmd := m.Update(m.loadCmd()())
	if cmd == nil {
		t.Fatalf("a failed load must quit the view")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("a failed load must quit the view")
	}
	if sess.torn != 1 {
		t.Fatalf("torn down %d times, want 1", sess.torn)
	}
	if err := m.Err(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestQuitTearsDown(t *testing.T) {
	v, info := ownTicket()
	m, sess, _ := newTestModel(t, v, info)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil || sess.torn != 1 {
		t.Fatalf("esc must tear the session down and quit")
	}
}

func TestRoomChangesRender(t *testing.T) {
	v, info := ownTicket()
	m, sess, _ := newTestModel(t, v, info)
	<-m.changes
	sess.room.Append(model.Message{ID: 2, SenderID: 7, Content: "on my way", CreatedAt: time.Now()})
	m.Update(<-m.changes)
	sess.room.MarkDeleted(1, time.Now())
	m.Update(<-m.changes)

	out := m.renderTimeline()
	if !strings.Contains(out, "on my way") || !strings.Contains(out, "message deleted") {
		t.Fatalf("timeline:\n%s", out)
	}
	if strings.Contains(out, "printer is jammed") {
		t.Fatalf("deleted content must not render")
	}
}

func TestSidebarOnlyForStaff(t *testing.T) {
	v, info := ownTicket()
	m, _, _ := newTestModel(t, v, info)
	if m.showSidebar() {
		t.Fatalf("users do not see presence")
	}
	op := access.Viewer{ID: 7, Role: model.RoleOperator}
	m2, sess, _ := newTestModel(t, op, info)
	<-m2.changes
	sess.room.SetPresence([]uint64{7})
	m2.Update(<-m2.changes)
	if !m2.showSidebar() || !strings.Contains(m2.renderSidebar(), "you") {
		t.Fatalf("sidebar:\n%s", m2.renderSidebar())
	}
	if !strings.Contains(m2.View(), "Operators online") {
		t.Fatalf("view misses the presence panel")
	}
}
