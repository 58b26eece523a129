package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/status"

	"github.com/hireme/chatsync/internal/tui/client"
	"github.com/hireme/chatsync/internal/tui/keys"
	"github.com/hireme/chatsync/internal/tui/model"
	"github.com/hireme/chatsync/internal/tui/ui"
	"github.com/hireme/chatsync/internal/tui/views"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageNotifications = "notifications"
	pageHelp          = "help"

	statusInterval  = 5 * time.Second
	watchRetryDelay = 2 * time.Second
	rpcTimeout      = 10 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *ui.Pages
	theme    *ui.Theme
	vm       *model.ViewModel
	client   *client.Client
	registry *keys.Registry
	profile  string

	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flash    *ui.FlashModel
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	body     *tview.Flex

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	search  *views.SearchView
	notes   *views.NotificationsView
	help    *views.HelpView

	prompting bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application for profile.
func NewApp(c *client.Client, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		pages:    ui.NewPages(),
		theme:    theme,
		vm:       model.NewViewModel(c.Control),
		client:   c,
		registry: keys.NewRegistry(),
		profile:  profile,
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		flash:    ui.NewFlashModel(nil),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		search:   views.NewSearchView(theme),
		notes:    views.NewNotificationsView(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.registry
	r.Rune(keys.Global, ':', "Command", func() { a.showPrompt(ui.PromptCommand) })
	r.Rune(keys.Global, '?', "Help", func() { a.push(pageHelp) })
	r.Rune(keys.Global, 'q', "Quit", a.Stop)

	r.Rune(pageConversations, '/', "Filter", func() { a.showPrompt(ui.PromptFilter) })
	r.Rune(pageConversations, '0', "Clear filter", a.list.ClearFilter)
	r.Rune(pageConversations, 'r', "Reload", func() { a.reloadConversations(true) })
	r.Rune(pageConversations, 's', "Search", func() { a.push(pageSearch) })
	r.Rune(pageConversations, 'n', "Notifications", func() { a.push(pageNotifications) })
	for n := 1; n <= 9; n++ {
		r.Rune(pageConversations, rune('0'+n), "", func() {
			if id := a.list.ConversationByIndex(n); id != "" {
				a.openConversation(id)
			}
		})
	}

	r.Rune(pageThread, 'i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) })
	r.Rune(pageThread, 'd', "Details", a.showDetails)

	r.Rune(pageNotifications, 'x', "Dismiss", a.dismissSelected)

	a.help.SetSections(a.helpSections())
}

// helpSections builds the help page from the registered bindings and the
// command table.
func (a *App) helpSections() []views.HelpSection {
	section := func(title, scope string, page ui.Page) views.HelpSection {
		entries := page.Hints()
		for _, h := range a.registry.Hints(scope) {
			if scope == keys.Global || !isGlobalHint(a.registry, h) {
				entries = append(entries, h)
			}
		}
		return views.HelpSection{Title: title, Entries: entries}
	}
	return []views.HelpSection{
		{Title: "Global", Entries: append(a.registry.Hints(keys.Global), ui.MenuHint{Key: "Esc", Description: "Back or cancel"})},
		section("Conversations", pageConversations, a.list),
		section("Thread", pageThread, a.thread),
		section("Notifications", pageNotifications, a.notes),
		section("Search", pageSearch, a.search),
		{Title: "Commands", Entries: commandHints()},
	}
}

func isGlobalHint(r *keys.Registry, h ui.MenuHint) bool {
	for _, g := range r.Hints(keys.Global) {
		if g.Key == h.Key {
			return true
		}
	}
	return false
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnChange(func(text string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
			defer cancel()
			_ = a.vm.Keystroke(ctx, text)
		}()
	})

	// The field is already empty here; a failed send puts the text back.
	a.thread.SetOnSend(func(text string) {
		convID := a.thread.ConversationID()
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
			defer cancel()
			_, err := a.vm.Send(ctx, text)
			if err == nil {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.thread.RestoreDraft(convID, text)
				a.flash.Err(errors.New(rpcMessage(err)))
			})
		}()
	})

	a.search.SetOnQuery(func(query string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
			defer cancel()
			results, err := a.vm.SearchMessages(ctx, query)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					a.flash.Err(fmt.Errorf("search failed: %s", rpcMessage(err)))
					return
				}
				a.search.Update(results)
				a.app.SetFocus(a.search.Results())
			})
		}()
	})
	a.search.Results().SetSelectedFunc(func(_, _ int) {
		if id, _ := a.search.SelectedResult(); id != "" {
			a.openConversation(id)
		}
	})

	a.notes.SetSelectedFunc(func(_, _ int) {
		if n, ok := a.notes.Selected(); ok && n.ConversationID != "" {
			a.openConversation(n.ConversationID)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.list.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(top ui.Page, trail []string) {
		a.crumbs.Update(trail)
		a.menu.Update(append(top.Hints(), a.registry.Hints(a.pages.Current())...))
	})
}

func (a *App) setupLayout() {
	a.pages.Add(pageConversations, a.list)
	a.pages.Add(pageThread, a.thread)
	a.pages.Add(pageDetails, a.details)
	a.pages.Add(pageSearch, a.search)
	a.pages.Add(pageNotifications, a.notes)
	a.pages.Add(pageHelp, a.help)

	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 16, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.pages.Reset(pageConversations)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current := a.pages.Current()

		if event.Key() == tcell.KeyEscape && !a.prompting {
			if a.app.GetFocus() == a.thread.Composer() {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			if a.pages.Depth() > 1 {
				a.pop()
				return nil
			}
		}

		// Text inputs receive every key.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.Dispatch(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.focusPage(page)
}

func (a *App) pop() {
	if a.pages.Pop() != "" {
		a.focusPage(a.pages.Current())
	}
}

func (a *App) focusPage(page string) {
	switch page {
	case pageConversations:
		a.list.Update(a.vm.Conversations())
		a.app.SetFocus(a.list)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageNotifications:
		a.notes.Update(a.vm.Notifications())
		a.app.SetFocus(a.notes)
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompting = true
	a.prompt.Activate(mode)
	a.body.AddItem(a.prompt, 3, 0, true)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	if !a.prompting {
		return
	}
	a.prompting = false
	a.body.RemoveItem(a.prompt)
	a.focusPage(a.pages.Current())
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "search":
		a.push(pageSearch)
		if cmd.Args != "" {
			a.search.Submit(cmd.Args)
		}
	case "open":
		convs, _ := a.vm.Conversations()
		for _, c := range convs {
			if strings.EqualFold(c.DisplayName(), cmd.Args) || c.ID == cmd.Args {
				a.openConversation(c.ID)
				return
			}
		}
		a.flash.Warn(fmt.Sprintf("no conversation named %q", cmd.Args))
	case "notifications":
		a.push(pageNotifications)
	case "reload":
		a.reloadConversations(true)
	default:
		a.flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
	}
}

func (a *App) openConversation(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		err := a.vm.Open(ctx, id)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("open failed: %s", rpcMessage(err)))
				return
			}
			name := id
			if c, ok := a.vm.Conversation(id); ok {
				name = c.DisplayName()
			}
			a.thread.SetConversation(id, name)
			a.thread.Update(a.vm.Messages())
			a.pages.Reset(pageConversations)
			a.push(pageThread)
		})
	}()
}

func (a *App) showDetails() {
	c, ok := a.vm.Conversation(a.thread.ConversationID())
	if !ok {
		a.flash.Warn("conversation details unavailable")
		return
	}
	a.details.Update(c, a.vm.Online(c.OtherUserID))
	a.push(pageDetails)
}

func (a *App) dismissSelected() {
	n, ok := a.notes.Selected()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		err := a.vm.Dismiss(ctx, n.Key)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("dismiss failed: %s", rpcMessage(err)))
				return
			}
			a.notes.Update(a.vm.Notifications())
		})
	}()
}

func (a *App) reloadConversations(refresh bool) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		if err := a.vm.LoadConversations(ctx, refresh); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.flash.Err(fmt.Errorf("reload failed: %s", rpcMessage(err)))
			})
		}
	}()
}

// render redraws every view from the view model. Must run on the UI
// goroutine.
func (a *App) render() {
	st := a.vm.Status()
	convs, loadErr := a.vm.Conversations()
	unread := 0
	for _, c := range convs {
		unread += c.Unread
	}
	user := st.DisplayName
	if user == "" {
		user = st.UserID
	}
	a.info.Update(&ui.SessionData{
		Profile:       a.profile,
		User:          user,
		State:         st.State,
		Conversations: len(convs),
		Unread:        unread,
		Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
	})
	a.thread.SetSelf(st.UserID)

	a.list.Update(convs, loadErr)
	if id := a.thread.ConversationID(); id != "" && id == a.vm.ActiveID() {
		a.thread.Update(a.vm.Messages())
	}
	a.notes.Update(a.vm.Notifications())
	a.flashBar.Update(a.flash.Current())
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.load()
	go a.watchEvents()
	go a.refreshLoop()
	return a.app.Run()
}

func (a *App) load() {
	ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
	defer cancel()
	if err := a.vm.LoadStatus(ctx); err != nil {
		a.app.QueueUpdateDraw(func() { a.flash.Err(fmt.Errorf("daemon: %s", rpcMessage(err))) })
		return
	}
	if a.vm.Status().State == "AUTH_REQUIRED" {
		a.app.QueueUpdateDraw(func() {
			a.flash.Warn("not signed in: set identity.token or identity.user_id in the profile and restart the daemon")
		})
	}
	_ = a.vm.LoadConversations(ctx, false)
	_ = a.vm.LoadNotifications(ctx)
	_ = a.vm.LoadPresence(ctx)
}

// watchEvents follows the daemon event stream, reconnecting until the app
// stops.
func (a *App) watchEvents() {
	for a.ctx.Err() == nil {
		stream, err := a.client.Control.WatchEvents(a.ctx, "")
		if err == nil {
			for {
				evt, err := stream.Recv()
				if err != nil {
					break
				}
				ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
				_ = a.vm.HandleEvent(ctx, evt.Kind)
				cancel()
			}
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
		case <-a.flash.Changed():
			a.app.QueueUpdateDraw(a.render)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
			_ = a.vm.LoadStatus(ctx)
			cancel()
			// Expired flash messages clear on the next draw.
			a.app.QueueUpdateDraw(a.render)
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// rpcMessage strips the gRPC framing from err.
func rpcMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}
