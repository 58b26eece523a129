package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/tui/ui"
)

// ConversationList is the conversation table, most recent first.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []chat.Summary
	visible []chat.Summary
	filter  string
	loadErr string
}

var listColumns = []struct {
	title  string
	expand int
	align  int
}{
	{" NAME", 1, tview.AlignLeft},
	{" LAST MESSAGE", 3, tview.AlignLeft},
	{" UNREAD ", 0, tview.AlignRight},
}

func NewConversationList(theme *ui.Theme) *ConversationList {
	cl := &ConversationList{Table: newTable(theme, "Conversations"), theme: theme}
	cl.render()
	return cl
}

func (cl *ConversationList) Title() string { return "Conversations" }

func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the rows. A non-empty loadErr replaces the body with the
// failure text.
func (cl *ConversationList) Update(convs []chat.Summary, loadErr string) {
	cl.convs = convs
	cl.loadErr = loadErr
	cl.render()
}

func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = strings.TrimSpace(filter)
	cl.render()
}

func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

func (cl *ConversationList) render() {
	cl.Clear()
	for col, c := range listColumns {
		cl.SetCell(0, col, headerCell(cl.theme, c.title).SetExpansion(c.expand).SetAlign(c.align))
	}

	if cl.loadErr != "" {
		cl.visible = nil
		cl.SetCell(1, 0, tview.NewTableCell(" "+clean(cl.loadErr)).
			SetSelectable(false).
			SetTextColor(cl.theme.Err))
		cl.SetTitle(" Conversations [failed] ")
		return
	}

	cl.visible = filterConversations(cl.convs, cl.filter)
	for i, c := range cl.visible {
		row := i + 1
		nameColor := cl.theme.Fg
		unread := ""
		if c.Unread > 0 {
			nameColor = cl.theme.Unread
			unread = strconv.Itoa(c.Unread) + " "
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+clean(c.DisplayName())).SetExpansion(1).SetTextColor(nameColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(c.LastMessage)).SetExpansion(3).SetTextColor(cl.theme.Fg))
		cl.SetCell(row, 2, tview.NewTableCell(unread).SetAlign(tview.AlignRight).SetTextColor(cl.theme.Unread))
	}

	title := fmt.Sprintf(" Conversations (%d) ", len(cl.convs))
	if cl.filter != "" {
		title = fmt.Sprintf(" Conversations (%d/%d) /%s ", len(cl.visible), len(cl.convs), clean(cl.filter))
	}
	cl.SetTitle(title)
	if row, _ := cl.GetSelection(); row > len(cl.visible) {
		cl.Select(max(1, len(cl.visible)), 0)
	}
}

// SelectedConversation returns the id of the selected row, or "".
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the nth visible row, counting from 1.
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

// filterConversations matches f against the display name and last message,
// ignoring case.
func filterConversations(convs []chat.Summary, f string) []chat.Summary {
	if f == "" {
		return convs
	}
	f = strings.ToLower(f)
	var out []chat.Summary
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.DisplayName()), f) ||
			strings.Contains(strings.ToLower(c.LastMessage), f) {
			out = append(out, c)
		}
	}
	return out
}

func newTable(theme *ui.Theme, title string) *tview.Table {
	t := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.SetBorder(true)
	t.SetBorderColor(theme.Border)
	t.SetBackgroundColor(theme.Bg)
	t.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	t.SetTitle(" " + title + " ")
	t.SetTitleColor(theme.Title)
	return t
}

func headerCell(theme *ui.Theme, text string) *tview.TableCell {
	return tview.NewTableCell(text).
		SetSelectable(false).
		SetTextColor(theme.HeaderFg).
		SetBackgroundColor(theme.HeaderBg).
		SetAttributes(tcell.AttrBold)
}

// formatTimestamp shows the clock time for today and the date otherwise.
func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	switch {
	case t.Year() == now.Year() && t.YearDay() == now.YearDay():
		return t.Format("15:04")
	case t.Year() == now.Year():
		return t.Format("Jan 02")
	default:
		return t.Format("2006-01-02")
	}
}
