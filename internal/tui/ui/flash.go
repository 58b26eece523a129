package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/clock"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is one transient status line.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

func (m FlashMessage) liveAt(now time.Time) bool {
	return m.Text != "" && now.Before(m.Expires)
}

// FlashModel holds the message shown in the flash bar. A live message is
// only replaced by one of the same or higher level, so a warning cannot hide
// an error before the error expires.
type FlashModel struct {
	clock   clock.Clock
	changed chan struct{}

	mu      sync.Mutex
	current FlashMessage
}

// NewFlashModel creates a flash model. A nil clock uses the real clock.
func NewFlashModel(clk clock.Clock) *FlashModel {
	if clk == nil {
		clk = clock.Real()
	}
	return &FlashModel{clock: clk, changed: make(chan struct{}, 1)}
}

// Info shows an informational message.
func (f *FlashModel) Info(msg string) { f.Show(FlashInfo, msg, flashTTL[FlashInfo]) }

// Warn shows a warning.
func (f *FlashModel) Warn(msg string) { f.Show(FlashWarn, msg, flashTTL[FlashWarn]) }

// Err shows err.
func (f *FlashModel) Err(err error) { f.Show(FlashErr, err.Error(), flashTTL[FlashErr]) }

// Show displays msg for ttl and reports whether it was accepted.
func (f *FlashModel) Show(level FlashLevel, msg string, ttl time.Duration) bool {
	now := f.clock.Now()
	f.mu.Lock()
	if f.current.liveAt(now) && f.current.Level > level {
		f.mu.Unlock()
		return false
	}
	f.current = FlashMessage{Text: msg, Level: level, Expires: now.Add(ttl)}
	f.mu.Unlock()
	f.signal()
	return true
}

// Clear removes the current message regardless of level.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	f.current = FlashMessage{}
	f.mu.Unlock()
	f.signal()
}

// Current returns the live message, or nil.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.current.liveAt(f.clock.Now()) {
		return nil
	}
	m := f.current
	return &m
}

// Changed receives after any accepted change. Pending signals collapse to one.
func (f *FlashModel) Changed() <-chan struct{} {
	return f.changed
}

func (f *FlashModel) signal() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// FlashBar draws the current flash message.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates an empty flash bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update draws msg, or clears the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	color, mark := ColorTag(fb.theme.Info), "i"
	switch msg.Level {
	case FlashWarn:
		color, mark = ColorTag(fb.theme.Warn), "!"
	case FlashErr:
		color, mark = ColorTag(fb.theme.Err), "x"
	}
	_, _ = fmt.Fprintf(fb, " [%s::b]%s[-:-:-] [%s]%s[-]", color, mark, color, tview.Escape(msg.Text))
}
