package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddle-rtc/huddle/internal/client"
	"github.com/huddle-rtc/huddle/internal/events"
	"github.com/huddle-rtc/huddle/internal/media"
)

const eventLogSize = 6

// RoomView is a live terminal view of one room session: who is here, what
// they publish, what we receive. It renders inline so previous terminal
// output stays visible, the same as the transfer views.
type RoomView struct {
	session *client.Session
	roomID  string
	userID  string

	eventCh <-chan events.Event
	cancel  func()

	spinner  spinner.Model
	log      []string
	quitting bool
}

// NewRoomView builds the model. It subscribes to the session's event feed;
// Run releases the subscription on exit.
func NewRoomView(session *client.Session, roomID, userID string) *RoomView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	eventCh, cancel := session.Events()
	return &RoomView{
		session: session,
		roomID:  roomID,
		userID:  userID,
		eventCh: eventCh,
		cancel:  cancel,
		spinner: s,
	}
}

// Run blocks until the user quits or the session ends.
func (v *RoomView) Run() error {
	defer v.cancel()
	_, err := tea.NewProgram(v).Run()
	return err
}

type sessionEventMsg events.Event
type eventsClosedMsg struct{}

func (v *RoomView) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-v.eventCh
		if !ok {
			return eventsClosedMsg{}
		}
		return sessionEventMsg(e)
	}
}

func (v *RoomView) Init() tea.Cmd {
	return tea.Batch(v.spinner.Tick, v.listenForEvents())
}

func (v *RoomView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			v.quitting = true
			return v, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd

	case sessionEventMsg:
		v.logEvent(events.Event(msg))
		return v, v.listenForEvents()

	case eventsClosedMsg:
		v.quitting = true
		return v, tea.Quit
	}

	return v, nil
}

func (v *RoomView) logEvent(e events.Event) {
	var line string
	switch p := e.Payload.(type) {
	case events.ConnectionStatusPayload:
		line = fmt.Sprintf("%s %s → %s", IconConnect, p.Old, p.New)
	case events.ParticipantPayload:
		if e.Type == events.TypeParticipantJoined {
			line = fmt.Sprintf("%s %s joined", IconPeer, p.UserID)
		} else {
			line = fmt.Sprintf("%s %s left", IconPeer, p.UserID)
		}
	case events.ProducerPayload:
		if e.Type == events.TypeNewProducer {
			line = fmt.Sprintf("%s %s started publishing %s", kindIcon(p.Kind), p.UserID, p.Kind)
		} else {
			line = fmt.Sprintf("%s producer %s closed", IconWarning, shortID(p.ProducerID))
		}
	case events.ConsumerPayload:
		if e.Type == events.TypeNewConsumer {
			line = fmt.Sprintf("%s receiving %s from %s", kindIcon(p.Kind), p.Kind, p.UserID)
		} else {
			line = fmt.Sprintf("%s stopped receiving from %s", IconWarning, p.UserID)
		}
	case events.ErrorPayload:
		line = FormatError(p.Err)
	default:
		return
	}

	v.log = append(v.log, line)
	if len(v.log) > eventLogSize {
		v.log = v.log[len(v.log)-eventLogSize:]
	}
}

func (v *RoomView) View() string {
	if v.quitting {
		return ""
	}

	var b strings.Builder

	status := v.session.Status()
	b.WriteString(fmt.Sprintf("\n%s %s  %s\n\n",
		IconRoom,
		TitleStyle.Render("Room "+v.roomID),
		StatusStyle.Render(string(status)),
	))

	if status == client.StatusConnecting || status == client.StatusReconnecting {
		b.WriteString(fmt.Sprintf("%s %s\n\n", v.spinner.View(), string(status)))
	}

	// Who is here.
	participants := v.session.Participants()
	b.WriteString(BoldStyle.Render("Participants") + "\n")
	b.WriteString(fmt.Sprintf("  %s %s %s\n", IconPeer, v.userID, MutedStyle.Render("(you)")))
	for _, p := range participants {
		name := p.UserID
		if p.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", p.DisplayName, p.UserID)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", IconPeer, name))
	}
	b.WriteString("\n")

	// What we publish.
	if producers := v.session.Producers(); len(producers) > 0 {
		b.WriteString(BoldStyle.Render("Publishing") + "\n")
		for _, p := range producers {
			b.WriteString(fmt.Sprintf("  %s %s %s\n", kindIcon(p.Kind), p.Kind, MutedStyle.Render(shortID(p.ID))))
		}
		b.WriteString("\n")
	}

	// What we receive.
	if consumers := v.session.Consumers(); len(consumers) > 0 {
		b.WriteString(BoldStyle.Render("Receiving") + "\n")
		for _, c := range consumers {
			state := ""
			if c.Paused {
				state = MutedStyle.Render(" (paused)")
			}
			b.WriteString(fmt.Sprintf("  %s %s from %s%s\n", kindIcon(c.Kind), c.Kind, c.ProducerUserID, state))
		}
		b.WriteString("\n")
	}

	if len(v.log) > 0 {
		b.WriteString(MutedStyle.Render("Recent") + "\n")
		for _, line := range v.log {
			b.WriteString("  " + line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(MutedStyle.Render("Press q to leave"))
	return b.String()
}

func kindIcon(kind media.Kind) string {
	if kind == media.KindVideo {
		return IconCamera
	}
	return IconMic
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
