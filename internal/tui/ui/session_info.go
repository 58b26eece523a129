package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData is the header summary of the daemon.
type SessionData struct {
	Profile       string
	User          string
	State         string
	Conversations int
	Unread        int
	Uptime        time.Duration
}

// SessionInfo is the header panel with profile and connection state.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates an empty panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &SessionInfo{TextView: tv, theme: theme}
}

// Update draws data. A nil data clears the panel.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}
	user := data.User
	if user == "" {
		user = "-"
	}
	unread := ColorTag(si.theme.Value)
	if data.Unread > 0 {
		unread = ColorTag(si.theme.Unread)
	}

	rows := []struct {
		label, color, value string
	}{
		{"Profile", ColorTag(si.theme.Value), tview.Escape(data.Profile)},
		{"User", ColorTag(si.theme.Value), tview.Escape(user)},
		{"State", stateColor(si.theme, data.State), data.State},
		{"Chats", ColorTag(si.theme.Value), fmt.Sprint(data.Conversations)},
		{"Unread", unread, fmt.Sprint(data.Unread)},
		{"Uptime", ColorTag(si.theme.Value), formatDuration(data.Uptime)},
	}
	label := ColorTag(si.theme.Fg)
	for i, r := range rows {
		if i > 0 {
			_, _ = fmt.Fprintln(si)
		}
		_, _ = fmt.Fprintf(si, "[%s::b]%-8s[-:-:-] [%s]%s[-]", label, r.label+":", r.color, r.value)
	}
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func stateColor(theme *Theme, state string) string {
	switch state {
	case "CONNECTED":
		return ColorTag(theme.Online)
	case "DEGRADED", "CONNECTING":
		return ColorTag(theme.Warn)
	case "DISCONNECTED", "AUTH_REQUIRED":
		return ColorTag(theme.Err)
	default:
		return ColorTag(theme.Offline)
	}
}
