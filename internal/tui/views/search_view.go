package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/tui/ui"
)

// SearchView queries the cached message history.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	query   string
	data    []chat.Message
	onQuery func(query string)
}

func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0).
		SetPlaceholder("text in any cached message")
	input.SetBackgroundColor(theme.Bg)
	input.SetFieldBackgroundColor(theme.Bg)
	input.SetFieldTextColor(theme.Fg)
	input.SetPlaceholderTextColor(theme.Offline)
	input.SetLabelColor(theme.Key)

	sv := &SearchView{
		theme:   theme,
		input:   input,
		results: newTable(theme, "Results"),
	}
	sv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(sv.results, 0, 1, false)
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			sv.Submit(input.GetText())
		}
	})
	sv.Update(nil)
	return sv
}

func (sv *SearchView) Title() string { return "Search" }

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery sets the callback for a submitted non-blank query.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// Submit runs query as if it had been typed and entered.
func (sv *SearchView) Submit(query string) {
	query = strings.TrimSpace(query)
	sv.input.SetText(query)
	if query == "" || sv.onQuery == nil {
		return
	}
	sv.query = query
	sv.onQuery(query)
}

// Update replaces the results. The caller orders them.
func (sv *SearchView) Update(results []chat.Message) {
	sv.data = results
	sv.results.Clear()
	for col, h := range []string{" CONVERSATION", " MESSAGE", " TIME "} {
		sv.results.SetCell(0, col, headerCell(sv.theme, h))
	}
	for i, m := range results {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+clean(m.ConversationID)).SetMaxWidth(24).SetTextColor(sv.theme.Value))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+clean(m.Content)).SetExpansion(1).SetTextColor(sv.theme.Fg))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(m.Timestamp)+" ").SetAlign(tview.AlignRight).SetTextColor(sv.theme.Offline))
	}
	if sv.query == "" {
		sv.results.SetTitle(" Results ")
		return
	}
	sv.results.SetTitle(fmt.Sprintf(" Results for %q (%d) ", clean(sv.query), len(results)))
}

// SelectedResult returns the conversation and message id of the selected
// row.
func (sv *SearchView) SelectedResult() (conversationID, messageID string) {
	row, _ := sv.results.GetSelection()
	if row < 1 || row > len(sv.data) {
		return "", ""
	}
	m := sv.data[row-1]
	return m.ConversationID, m.ID
}

func (sv *SearchView) Input() *tview.InputField { return sv.input }

func (sv *SearchView) Results() *tview.Table { return sv.results }
