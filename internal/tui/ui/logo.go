package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

var logoArt = []string{
	"  ┌─┐┬ ┬┌─┐┌┬┐",
	"  │  ├─┤├─┤ │ ",
	"  └─┘┴ ┴┴ ┴ ┴ ",
}

// Logo is the header logo.
type Logo struct {
	*tview.TextView
}

// NewLogo creates the logo.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetBorderPadding(1, 0, 0, 0)

	title := ColorTag(theme.Title)
	for _, line := range logoArt {
		_, _ = fmt.Fprintf(tv, "[%s::b]%s[-:-:-]\n", title, line)
	}
	_, _ = fmt.Fprintf(tv, "[%s]   chatsync[-]", ColorTag(theme.Fg))
	return &Logo{TextView: tv}
}
