package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme is the TUI palette.
type Theme struct {
	Bg     tcell.Color
	Fg     tcell.Color
	Border tcell.Color
	Title  tcell.Color
	Value  tcell.Color

	HeaderFg tcell.Color
	HeaderBg tcell.Color
	CursorFg tcell.Color
	CursorBg tcell.Color

	CrumbFg    tcell.Color
	CrumbBg    tcell.Color
	CrumbTopBg tcell.Color

	Key        tcell.Color
	NumericKey tcell.Color

	Unread  tcell.Color
	Online  tcell.Color
	Offline tcell.Color
	Self    tcell.Color
	Peer    tcell.Color
	Typing  tcell.Color

	Info tcell.Color
	Warn tcell.Color
	Err  tcell.Color
}

// DefaultTheme returns the dark palette.
func DefaultTheme() *Theme {
	return &Theme{
		Bg:     tcell.ColorBlack,
		Fg:     tcell.ColorCadetBlue,
		Border: tcell.ColorDodgerBlue,
		Title:  tcell.ColorFuchsia,
		Value:  tcell.ColorPapayaWhip,

		HeaderFg: tcell.ColorWhite,
		HeaderBg: tcell.ColorBlack,
		CursorFg: tcell.ColorBlack,
		CursorBg: tcell.ColorAqua,

		CrumbFg:    tcell.ColorBlack,
		CrumbBg:    tcell.ColorAqua,
		CrumbTopBg: tcell.ColorOrange,

		Key:        tcell.ColorDodgerBlue,
		NumericKey: tcell.ColorFuchsia,

		Unread:  tcell.ColorGreenYellow,
		Online:  tcell.ColorLime,
		Offline: tcell.ColorGray,
		Self:    tcell.ColorLightSkyBlue,
		Peer:    tcell.ColorOrange,
		Typing:  tcell.ColorGray,

		Info: tcell.ColorNavajoWhite,
		Warn: tcell.ColorOrange,
		Err:  tcell.ColorOrangeRed,
	}
}

// ColorTag returns c in tview's color tag syntax.
func ColorTag(c tcell.Color) string {
	if c == tcell.ColorDefault {
		return "-"
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
