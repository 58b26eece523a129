package ui

import "github.com/rivo/tview"

// Page is a view that can sit on the page stack.
type Page interface {
	tview.Primitive
	// Title is the breadcrumb label.
	Title() string
	// Hints lists the keys the view handles itself.
	Hints() []MenuHint
}
