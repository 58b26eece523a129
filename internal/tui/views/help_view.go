package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/tui/ui"
)

// HelpSection is one titled group of keys or commands on the help page.
type HelpSection struct {
	Title   string
	Entries []ui.MenuHint
}

// HelpView renders the key and command reference it is given.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.Title)
	return &HelpView{TextView: tv, theme: theme}
}

func (hv *HelpView) Title() string { return "Help" }

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// SetSections replaces the page content. Empty sections are skipped.
func (hv *HelpView) SetSections(sections []HelpSection) {
	hv.SetText(renderHelp(hv.theme, sections))
	hv.ScrollToBeginning()
}

func renderHelp(theme *ui.Theme, sections []HelpSection) string {
	key := ui.ColorTag(theme.Key)
	var b strings.Builder
	for _, s := range sections {
		if len(s.Entries) == 0 {
			continue
		}
		width := 0
		for _, e := range s.Entries {
			width = max(width, len([]rune(e.Key)))
		}
		fmt.Fprintf(&b, "\n  [%s::b]%s[-:-:-]\n\n", ui.ColorTag(theme.Title), clean(s.Title))
		for _, e := range s.Entries {
			pad := strings.Repeat(" ", width-len([]rune(e.Key)))
			fmt.Fprintf(&b, "  [%s]%s[-]%s  %s\n", key, clean(e.Key), pad, clean(e.Description))
		}
	}
	return b.String()
}
