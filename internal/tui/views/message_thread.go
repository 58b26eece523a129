package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/tui/ui"
)

// MessageThread shows one conversation above its typing line and composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField

	conversationID string
	name           string
	selfID         string
	onSend         func(text string)
	onChange       func(text string)
	quiet          bool
}

func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.Border)
	messages.SetBackgroundColor(theme.Bg)
	messages.SetTextColor(theme.Fg)
	messages.SetTitleColor(theme.Title)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.Bg)
	typing.SetTextColor(theme.Typing)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.Border)
	composer.SetBackgroundColor(theme.Bg)
	composer.SetFieldBackgroundColor(theme.Bg)
	composer.SetFieldTextColor(theme.Fg)
	composer.SetLabelColor(theme.Key)
	composer.SetTitle(" Compose ")
	composer.SetTitleColor(theme.Title)

	mt := &MessageThread{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(messages, 0, 1, true).
			AddItem(typing, 1, 0, false).
			AddItem(composer, 3, 0, false),
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
	}
	composer.SetChangedFunc(func(text string) {
		if mt.onChange != nil && !mt.quiet {
			mt.onChange(text)
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			mt.submit()
		}
	})
	mt.SetConversation("", "")
	return mt
}

func (mt *MessageThread) Title() string {
	if mt.name == "" {
		return "Messages"
	}
	return mt.name
}

func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Send"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetConversation switches the view to conversation id. Switching to a
// different conversation drops the old content and draft.
func (mt *MessageThread) SetConversation(id, name string) {
	if id != mt.conversationID {
		mt.messages.Clear()
		mt.typing.Clear()
		mt.setDraft("")
	}
	mt.conversationID = id
	mt.name = name
	mt.messages.SetTitle(" " + clean(mt.Title()) + " ")
}

func (mt *MessageThread) ConversationID() string { return mt.conversationID }

// submit clears the field and hands its text to the send callback. Blank
// drafts and a thread without a send callback are left alone.
func (mt *MessageThread) submit() {
	text := mt.composer.GetText()
	if mt.onSend == nil || strings.TrimSpace(text) == "" {
		return
	}
	mt.setDraft("")
	mt.onSend(text)
}

// RestoreDraft puts text back after a failed send, unless the thread moved
// to another conversation or a new draft was started.
func (mt *MessageThread) RestoreDraft(conversationID, text string) bool {
	if conversationID != mt.conversationID || mt.composer.GetText() != "" {
		return false
	}
	mt.setDraft(text)
	return true
}

// setDraft replaces the field text without reporting it as typing.
func (mt *MessageThread) setDraft(text string) {
	mt.quiet = true
	mt.composer.SetText(text)
	mt.quiet = false
}

// SetSelf sets the signed-in user, whose messages render as "You".
func (mt *MessageThread) SetSelf(id string) { mt.selfID = id }

func (mt *MessageThread) SetOnSend(fn func(text string)) { mt.onSend = fn }

// SetOnChange sets the callback run on every composer edit.
func (mt *MessageThread) SetOnChange(fn func(text string)) { mt.onChange = fn }

// Update renders msgs, oldest first, and the users typing.
func (mt *MessageThread) Update(msgs []chat.Message, typing []string) {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(mt.line(m))
	}
	mt.messages.SetText(b.String())
	mt.messages.ScrollToEnd()

	mt.typing.Clear()
	if line := typingLine(typing); line != "" {
		_, _ = fmt.Fprintf(mt.typing, " [::i]%s[-:-:-]", clean(line))
	}
}

func (mt *MessageThread) line(m chat.Message) string {
	sender, color := mt.name, mt.theme.Peer
	switch {
	case m.SenderID != "" && m.SenderID == mt.selfID:
		sender, color = "You", mt.theme.Self
	case sender == "":
		sender = m.SenderID
	}
	when := formatTimestamp(m.Timestamp)
	if !m.CreatedAt.IsZero() {
		when = formatTimestamp(m.CreatedAt.UnixMilli())
	}
	return fmt.Sprintf("[%s::b]%s[-:-:-] [%s]%s[-]\n%s\n\n",
		ui.ColorTag(color), clean(sender),
		ui.ColorTag(mt.theme.Offline), when,
		cleanMultiline(m.Content))
}

func typingLine(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is typing..."
	default:
		return strings.Join(users, ", ") + " are typing..."
	}
}

// Messages returns the message pane for focus changes.
func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

// Composer returns the input field for focus changes.
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }
