package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const historySize = 50

// Prompt is the command and filter input bar. Submitted commands are kept
// in a history that Up and Down walk through.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	history  []string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates an inactive prompt.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.Border)
	input.SetBackgroundColor(theme.Bg)
	input.SetFieldBackgroundColor(theme.Bg)
	input.SetFieldTextColor(theme.Fg)
	input.SetLabelColor(theme.Key)

	p := &Prompt{InputField: input}
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			p.submit(p.GetText())
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			p.SetText(p.Recall(-1))
			return nil
		case tcell.KeyDown:
			p.SetText(p.Recall(1))
			return nil
		}
		return ev
	})
	return p
}

// SetOnSubmit sets the callback for a non-empty submission.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback for Esc.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate clears the prompt and switches it to mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history)
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
}

// Mode returns the active mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// Recall moves through the command history by delta and returns the entry
// under the cursor. Moving past the newest entry returns "".
func (p *Prompt) Recall(delta int) string {
	if p.mode != PromptCommand || len(p.history) == 0 {
		return p.GetText()
	}
	p.cursor = max(0, min(len(p.history), p.cursor+delta))
	if p.cursor == len(p.history) {
		return ""
	}
	return p.history[p.cursor]
}

func (p *Prompt) submit(text string) {
	p.SetText("")
	if text == "" {
		return
	}
	if p.mode == PromptCommand {
		if n := len(p.history); n == 0 || p.history[n-1] != text {
			p.history = append(p.history, text)
			if len(p.history) > historySize {
				p.history = p.history[len(p.history)-historySize:]
			}
		}
		p.cursor = len(p.history)
	}
	if p.onSubmit != nil {
		p.onSubmit(p.mode, text)
	}
}
