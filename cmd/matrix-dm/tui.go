// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
	"github.com/abekugithub/matrix/timeline"
	"github.com/abekugithub/matrix/voip"
)

// paginationThreshold is how close to the top (in lines) the viewport
// must be before the next history page is requested.
const paginationThreshold = 4

// Renderer messages: the ConversationView calls the teaRenderer from
// its own goroutines; each call becomes one of these through the
// bubbletea message loop, so all timeline mutation happens in Update.
type (
	insertMsg  struct{ message timeline.Message }
	prependMsg struct{ messages []timeline.Message }
	replaceMsg struct {
		eventID ref.EventID
		message timeline.Message
	}
	removeMsg   struct{ eventID ref.EventID }
	reactionMsg struct {
		target ref.EventID
		sender ref.UserID
		key    string
	}
	editMsg struct {
		target ref.EventID
		edit   timeline.EditPayload
	}
)

// streamDoneMsg reports that the conversation stream stopped.
type streamDoneMsg struct{ err error }

// sendDoneMsg reports the outcome of an asynchronous send.
type sendDoneMsg struct{ err error }

// loadDoneMsg reports the outcome of a pagination request.
type loadDoneMsg struct {
	more bool
	err  error
}

// callNotifyMsg mirrors the voip manager's call-UI callback.
type callNotifyMsg struct {
	inCall  bool
	isVideo bool
}

// teaRenderer adapts the bubbletea program to the timeline Renderer
// contract. program.Send is safe from any goroutine.
type teaRenderer struct {
	program *tea.Program
}

func (r *teaRenderer) Insert(message timeline.Message) { r.program.Send(insertMsg{message}) }
func (r *teaRenderer) Prepend(messages []timeline.Message) {
	r.program.Send(prependMsg{messages})
}
func (r *teaRenderer) Replace(eventID ref.EventID, message timeline.Message) {
	r.program.Send(replaceMsg{eventID, message})
}
func (r *teaRenderer) Remove(eventID ref.EventID) { r.program.Send(removeMsg{eventID}) }
func (r *teaRenderer) ApplyReaction(target ref.EventID, sender ref.UserID, key string) {
	r.program.Send(reactionMsg{target, sender, key})
}
func (r *teaRenderer) ApplyEdit(target ref.EventID, edit timeline.EditPayload) {
	r.program.Send(editMsg{target, edit})
}

// styles is the conversation color palette, ANSI 256 for broad
// terminal compatibility.
type styles struct {
	header   lipgloss.Style
	ownName  lipgloss.Style
	peerName lipgloss.Style
	faint    lipgloss.Style
	errText  lipgloss.Style
	status   lipgloss.Style
	callBar  lipgloss.Style
}

func newStyles() styles {
	return styles{
		header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		ownName:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
		peerName: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")),
		faint:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Italic(true),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		callBar:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
	}
}

// entry is one rendered timeline node plus the relations absorbed
// into it.
type entry struct {
	message   timeline.Message
	reactions map[string]int // reaction key → count
	edited    bool
}

// model is the conversation TUI.
type model struct {
	ctx    context.Context
	cancel context.CancelFunc
	view   *timeline.ConversationView
	calls  *voip.Manager
	title  string
	styles styles

	entries []entry
	lines   []string // rendered content, rebuilt after every mutation
	scroll  ScrollState

	input  textinput.Model
	width  int
	height int

	status    string
	inCall    bool
	callVideo bool
	loading   bool
	streamErr error
	quitting  bool
}

func newModel(ctx context.Context, cancel context.CancelFunc, view *timeline.ConversationView, calls *voip.Manager, title string) *model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Message " + title
	input.CharLimit = 4000
	input.Focus()

	return &model{
		ctx:    ctx,
		cancel: cancel,
		view:   view,
		calls:  calls,
		title:  title,
		styles: newStyles(),
		input:  input,
		scroll: ScrollState{},
	}
}

// Init starts the conversation orchestration alongside the UI loop.
func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.runStream())
}

// runStream drives the ConversationView until the stream closes.
func (m *model) runStream() tea.Cmd {
	return func() tea.Msg {
		return streamDoneMsg{err: m.view.Run(m.ctx)}
	}
}

func (m *model) sendCmd(body string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.view.Send(m.ctx, messaging.NewTextMessage(body))
		return sendDoneMsg{err: err}
	}
}

func (m *model) loadOlderCmd() tea.Cmd {
	return func() tea.Msg {
		more, err := m.view.LoadOlder(m.ctx)
		if errors.Is(err, timeline.ErrLoadInFlight) {
			// The in-flight request will deliver the page.
			return nil
		}
		return loadDoneMsg{more: more, err: err}
	}
}

// maybeLoadOlder fires a pagination request when the viewport sits
// near the oldest loaded content.
func (m *model) maybeLoadOlder() tea.Cmd {
	if m.loading || !m.view.CanLoadMore() || !m.scroll.NearTop(paginationThreshold) {
		return nil
	}
	m.loading = true
	return m.loadOlderCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.rebuild()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress {
			switch msg.Button {
			case tea.MouseButtonWheelUp:
				m.scroll = m.scroll.ScrollBy(-3)
				return m, m.maybeLoadOlder()
			case tea.MouseButtonWheelDown:
				m.scroll = m.scroll.ScrollBy(3)
			}
		}
		return m, nil

	case insertMsg:
		m.entries = append(m.entries, entry{message: msg.message})
		m.appendRebuild()
		return m, nil

	case prependMsg:
		prepended := make([]entry, 0, len(msg.messages))
		for _, message := range msg.messages {
			prepended = append(prepended, entry{message: message})
		}
		m.entries = append(prepended, m.entries...)
		before := len(m.lines)
		m.rebuildLinesOnly()
		m.scroll = m.scroll.Prepend(len(m.lines) - before)
		return m, nil

	case replaceMsg:
		if i := m.findEntry(msg.eventID); i >= 0 {
			reactions := m.entries[i].reactions
			m.entries[i] = entry{message: msg.message, reactions: reactions}
			m.rebuild()
		}
		return m, nil

	case removeMsg:
		if i := m.findEntry(msg.eventID); i >= 0 {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			m.rebuild()
		}
		return m, nil

	case reactionMsg:
		if i := m.findEntry(msg.target); i >= 0 {
			if m.entries[i].reactions == nil {
				m.entries[i].reactions = make(map[string]int)
			}
			m.entries[i].reactions[msg.key]++
			m.rebuild()
		}
		return m, nil

	case editMsg:
		if i := m.findEntry(msg.target); i >= 0 {
			if text := m.entries[i].message.Text; text != nil {
				text.Body = msg.edit.NewBody
				if msg.edit.NewFormatted != "" {
					text.FormattedBody = msg.edit.NewFormatted
				}
			}
			m.entries[i].edited = true
			m.rebuild()
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.status = "send failed: " + msg.err.Error()
		}
		return m, nil

	case loadDoneMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "history load failed: " + msg.err.Error()
		}
		return m, nil

	case callNotifyMsg:
		m.inCall = msg.inCall
		m.callVideo = msg.isVideo
		return m, nil

	case streamDoneMsg:
		m.streamErr = msg.err
		if msg.err != nil && m.ctx.Err() == nil {
			m.status = "connection lost: " + msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		m.cancel()
		return m, tea.Quit

	case "enter":
		body := strings.TrimSpace(m.input.Value())
		if body == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.status = ""
		return m, m.sendCmd(body)

	case "pgup":
		m.scroll = m.scroll.ScrollBy(-m.scroll.Viewport + 1)
		return m, m.maybeLoadOlder()

	case "pgdown":
		m.scroll = m.scroll.ScrollBy(m.scroll.Viewport - 1)
		return m, nil

	case "f2":
		if m.calls != nil && !m.inCall {
			return m, func() tea.Msg {
				if _, err := m.calls.StartCall(m.ctx, m.view.RoomID(), false); err != nil {
					return sendDoneMsg{err: err}
				}
				return nil
			}
		}
		return m, nil

	case "f3":
		if m.calls != nil {
			return m, func() tea.Msg {
				if err := m.calls.Answer(m.ctx); err != nil {
					return sendDoneMsg{err: err}
				}
				return nil
			}
		}
		return m, nil

	case "f4":
		if m.calls != nil && m.inCall {
			return m, func() tea.Msg {
				if err := m.calls.Hangup(m.ctx); err != nil {
					return sendDoneMsg{err: err}
				}
				return nil
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) findEntry(eventID ref.EventID) int {
	for i := range m.entries {
		if m.entries[i].message.EventID == eventID {
			return i
		}
	}
	return -1
}

// viewportHeight is the timeline area: everything except the header,
// status line, and input line.
func (m *model) viewportHeight() int {
	height := m.height - 3
	if height < 1 {
		height = 1
	}
	return height
}

// rebuildLinesOnly re-renders entries into lines without touching the
// scroll state. Callers adjust the anchor themselves.
func (m *model) rebuildLinesOnly() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	wrap := lipgloss.NewStyle().Width(width)

	m.lines = m.lines[:0]
	for i := range m.entries {
		rendered := wrap.Render(m.renderEntry(&m.entries[i]))
		m.lines = append(m.lines, strings.Split(rendered, "\n")...)
	}
}

// rebuild re-renders and re-anchors, keeping a bottom-pinned viewport
// at the bottom.
func (m *model) rebuild() {
	m.rebuildLinesOnly()
	m.scroll = m.scroll.Resize(len(m.lines), m.viewportHeight())
}

// appendRebuild re-renders after a single append, following new
// content only when the viewport was at the bottom.
func (m *model) appendRebuild() {
	before := len(m.lines)
	m.rebuildLinesOnly()
	m.scroll.Viewport = m.viewportHeight()
	m.scroll = m.scroll.Append(len(m.lines) - before)
}

func (m *model) renderEntry(e *entry) string {
	message := e.message
	stamp := m.styles.faint.Render(message.Timestamp.Format("15:04"))
	name := message.Sender.Localpart()
	nameStyle := m.styles.peerName
	if message.IsOwn {
		nameStyle = m.styles.ownName
	}

	var body string
	switch message.Kind {
	case timeline.KindText:
		body = message.Text.Body
		if message.Text.MsgType == messaging.MsgEmote {
			body = "* " + name + " " + body
		}
	case timeline.KindMedia:
		media := message.Media
		body = fmt.Sprintf("[%s: %s, %s, %d bytes]",
			strings.TrimPrefix(media.MsgType, "m."), media.Filename, media.MIMEType, media.Size)
	case timeline.KindLocation:
		body = fmt.Sprintf("[location: %s %s]", message.Location.Label, message.Location.GeoURI)
	case timeline.KindCall:
		return fmt.Sprintf("%s %s", stamp,
			m.styles.faint.Render(fmt.Sprintf("-- call %s from %s --", message.Call.Subtype, name)))
	case timeline.KindSystem:
		return fmt.Sprintf("%s %s", stamp,
			m.styles.faint.Render(fmt.Sprintf("-- %s: %s --", message.System.Subtype, name)))
	case timeline.KindError:
		return fmt.Sprintf("%s %s %s", stamp, nameStyle.Render(name+":"),
			m.styles.errText.Render("[message could not be decrypted]"))
	default:
		return fmt.Sprintf("%s %s", stamp,
			m.styles.faint.Render(fmt.Sprintf("[unsupported event: %s]", message.Kind)))
	}

	line := fmt.Sprintf("%s %s %s", stamp, nameStyle.Render(name+":"), body)
	if e.edited {
		line += " " + m.styles.faint.Render("(edited)")
	}
	if len(e.reactions) > 0 {
		keys := make([]string, 0, len(e.reactions))
		for key, count := range e.reactions {
			if count > 1 {
				keys = append(keys, fmt.Sprintf("%s x%d", key, count))
			} else {
				keys = append(keys, key)
			}
		}
		line += "\n    " + m.styles.faint.Render(strings.Join(keys, "  "))
	}
	return line
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}

	header := m.styles.header.Render(m.title)
	if m.inCall {
		kind := "voice"
		if m.callVideo {
			kind = "video"
		}
		header += "  " + m.styles.callBar.Render("[in "+kind+" call - F4 to hang up]")
	}

	viewport := m.viewportHeight()
	start := m.scroll.Offset
	end := start + viewport
	if end > len(m.lines) {
		end = len(m.lines)
	}
	visible := make([]string, 0, viewport)
	visible = append(visible, m.lines[start:end]...)
	for len(visible) < viewport {
		visible = append(visible, "")
	}

	status := m.status
	if status == "" {
		if m.loading {
			status = "loading history..."
		} else if !m.view.CanLoadMore() {
			status = "start of conversation"
		}
	}

	return header + "\n" +
		strings.Join(visible, "\n") + "\n" +
		m.styles.status.Render(status) + "\n" +
		m.input.View()
}
