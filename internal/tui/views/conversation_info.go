package views

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/tui/ui"
)

// ConversationInfo shows one conversation's details and a QR code of its
// deep link.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.Title)
	return &ConversationInfo{TextView: tv, theme: theme}
}

func (ci *ConversationInfo) Title() string { return "Details" }

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Update renders c. online is the other party's presence.
func (ci *ConversationInfo) Update(c chat.Summary, online bool) {
	state, stateColor := "offline", ci.theme.Offline
	if online {
		state, stateColor = "online", ci.theme.Online
	}
	last := c.LastMessage
	if last == "" {
		last = "-"
	}
	link := ConversationLink(c)

	rows := []struct {
		label string
		value string
		color string
	}{
		{"Name", clean(c.DisplayName()), ui.ColorTag(ci.theme.Value)},
		{"Conversation", clean(c.ID), ui.ColorTag(ci.theme.Value)},
		{"User", clean(c.OtherUserID), ui.ColorTag(ci.theme.Value)},
		{"Presence", state, ui.ColorTag(stateColor)},
		{"Unread", strconv.Itoa(c.Unread), ui.ColorTag(ci.theme.Unread)},
		{"Last message", clean(last), ui.ColorTag(ci.theme.Value)},
		{"Link", clean(link), ui.ColorTag(ci.theme.Key)},
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(&b, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", ui.ColorTag(ci.theme.Fg), r.label+":", r.color, r.value)
	}
	b.WriteString("\n")
	b.WriteString(renderQR(link))
	ci.SetText(b.String())
	ci.SetTitle(" " + clean(c.DisplayName()) + " ")
}

// ConversationLink is the chatsync:// deep link for c.
func ConversationLink(c chat.Summary) string {
	u := url.URL{Scheme: "chatsync", Host: "conversation", Path: "/" + c.ID}
	if c.OtherUserID != "" {
		u.RawQuery = url.Values{"user": {c.OtherUserID}}.Encode()
	}
	return u.String()
}

// renderQR draws content as a QR code two modules per character cell using
// half blocks.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  QR code unavailable: " + clean(err.Error()) + "\n"
	}
	bitmap := qr.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		b.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			b.WriteRune(halfBlock(top, bottom))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func halfBlock(top, bottom bool) rune {
	switch {
	case top && bottom:
		return '█'
	case top:
		return '▀'
	case bottom:
		return '▄'
	}
	return ' '
}
