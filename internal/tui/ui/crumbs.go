package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// maxCrumbs is how many trail entries are drawn before older ones fold
// into an ellipsis.
const maxCrumbs = 4

// Crumbs is the breadcrumb bar under the page area.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates an empty breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update draws trail, highlighting its last entry.
func (c *Crumbs) Update(trail []string) {
	c.Clear()
	_, _ = fmt.Fprint(c, c.render(trail))
}

func (c *Crumbs) render(trail []string) string {
	if len(trail) == 0 {
		return ""
	}
	var parts []string
	if len(trail) > maxCrumbs {
		parts = append(parts, "…")
		trail = trail[len(trail)-maxCrumbs:]
	}
	fg := ColorTag(c.theme.CrumbFg)
	for i, name := range trail {
		bg, attr := ColorTag(c.theme.CrumbBg), ""
		if i == len(trail)-1 {
			bg, attr = ColorTag(c.theme.CrumbTopBg), "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]", fg, bg, attr, tview.Escape(name)))
	}
	return strings.Join(parts, " ")
}
