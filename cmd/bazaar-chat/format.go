package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

var (
	mutedColor   = lipgloss.Color("#9CA3AF")
	selfColor    = lipgloss.Color("#10B981")
	privateColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	selfStyle    = lipgloss.NewStyle().Foreground(selfColor).Bold(true)
	authorStyle  = lipgloss.NewStyle().Bold(true)
	privateStyle = lipgloss.NewStyle().Foreground(privateColor).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	unreadStyle  = lipgloss.NewStyle().Foreground(selfColor).Bold(true)
)

func formatMessage(m models.ChatMessage, self models.AuthContext) string {
	name := authorStyle.Render(m.Author.Name)
	if self.UserID != "" && m.Author.ID == self.UserID {
		name = selfStyle.Render("you")
	}
	text := m.Text
	if m.IsPrivate {
		text = privateStyle.Render("[private] " + text)
	}
	return fmt.Sprintf("%s %s: %s", mutedStyle.Render(m.CreatedAt.Local().Format("15:04")), name, text)
}

func formatConversation(c models.Conversation) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("#%d %s", c.ID, c.OtherPartyUsername)))
	if c.UnreadMessageCount > 0 {
		b.WriteString(" " + unreadStyle.Render(fmt.Sprintf("(%d unread)", c.UnreadMessageCount)))
	}
	if c.TicketID != nil {
		b.WriteString(" " + mutedStyle.Render(fmt.Sprintf("ticket %d", *c.TicketID)))
	}
	if !c.LastMessageSentAt.IsZero() {
		b.WriteString(" " + mutedStyle.Render(c.LastMessageSentAt.Local().Format(time.DateTime)))
	}
	if c.LastMessageContent != "" {
		b.WriteString("\n    " + c.LastMessageContent)
	}
	return b.String()
}

func printEvent(w io.Writer, ev services.Event, self models.AuthContext) {
	switch ev.Type {
	case services.EventMessages:
		// history arrives newest first
		for i := len(ev.Messages) - 1; i >= 0; i-- {
			fmt.Fprintln(w, formatMessage(ev.Messages[i], self))
		}
	case services.EventNotice:
		if ev.Notice != nil {
			fmt.Fprintln(w, errorStyle.Render("! "+ev.Notice.Text))
		}
	case services.EventConnection:
		if ev.Connection != nil {
			fmt.Fprintln(w, mutedStyle.Render("-- "+ev.Connection.Status))
		}
	case services.EventGate:
		if ev.Gate != nil && ev.Gate.TicketID != nil {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("-- ticket %d: %s", *ev.Gate.TicketID, ev.Gate.Status)))
		}
	}
}
