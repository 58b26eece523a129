package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/tui/ui"
)

// NotificationsView lists the notification feed, newest first.
type NotificationsView struct {
	*tview.Table
	theme *ui.Theme
	items []chat.Notification
}

func NewNotificationsView(theme *ui.Theme) *NotificationsView {
	nv := &NotificationsView{Table: newTable(theme, "Notifications"), theme: theme}
	nv.Update(nil)
	return nv
}

func (nv *NotificationsView) Title() string { return "Notifications" }

func (nv *NotificationsView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "Esc", Description: "Back"},
	}
}

func (nv *NotificationsView) Update(items []chat.Notification) {
	nv.items = items
	nv.Clear()
	for col, h := range []string{" TITLE", " BODY", " TIME "} {
		nv.SetCell(0, col, headerCell(nv.theme, h))
	}
	for i, n := range items {
		row := i + 1
		titleColor := nv.theme.Fg
		if n.Type == chat.NotificationNewMessage {
			titleColor = nv.theme.Unread
		}
		nv.SetCell(row, 0, tview.NewTableCell(" "+clean(n.Title)).SetMaxWidth(30).SetTextColor(titleColor))
		nv.SetCell(row, 1, tview.NewTableCell(" "+clean(n.Body)).SetExpansion(1).SetTextColor(nv.theme.Fg))
		nv.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(n.CreatedAt)+" ").SetAlign(tview.AlignRight).SetTextColor(nv.theme.Offline))
	}
	nv.SetTitle(fmt.Sprintf(" Notifications (%d) ", len(items)))
	if row, _ := nv.GetSelection(); row > len(items) {
		nv.Select(max(1, len(items)), 0)
	}
}

// Selected returns the notification under the cursor.
func (nv *NotificationsView) Selected() (chat.Notification, bool) {
	row, _ := nv.GetSelection()
	if row < 1 || row > len(nv.items) {
		return chat.Notification{}, false
	}
	return nv.items[row-1], true
}
