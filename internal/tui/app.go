package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jpillora/backoff"
	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/tui/keys"
	"github.com/matheus3301/pairchat/internal/tui/model"
	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/matheus3301/pairchat/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageLogin         = "login"
	pageHelp          = "help"
)

// requestTimeout bounds every call to the daemon except uploads.
const requestTimeout = 10 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	client   *api.Client
	registry *keys.Registry
	flash    *ui.FlashModel

	sessionInfo *ui.SessionInfo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	prompt      *ui.Prompt
	flashBar    *ui.FlashBar
	body        *tview.Flex
	promptOn    bool

	convList   *views.ConversationList
	thread     *views.MessageThread
	info       *views.ConversationInfo
	search     *views.SearchView
	login      *views.LoginView
	help       *views.HelpView
	components map[string]ui.Component

	sessionName string
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *api.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		pages:       ui.NewPages(),
		vm:          model.NewViewModel(c),
		client:      c,
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		sessionInfo: ui.NewSessionInfo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		prompt:      ui.NewPrompt(theme),
		flashBar:    ui.NewFlashBar(theme),
		convList:    views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme),
		info:        views.NewConversationInfo(theme),
		search:      views.NewSearchView(theme),
		login:       views.NewLoginView(theme),
		help:        views.NewHelpView(theme),
		sessionName: sessionName,
		ctx:         ctx,
		cancel:      cancel,
	}
	a.components = map[string]ui.Component{
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.info,
		pageSearch:        a.search,
		pageLogin:         a.login,
		pageHelp:          a.help,
	}

	a.sessionInfo.Update(&ui.SessionData{Session: sessionName})
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Description: "Help", Visible: true,
		Handler: func() { a.showPage(pageHelp) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: "Command", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "Quit", Visible: true,
		Handler: func() { a.Stop() },
	})

	a.registry.AddPage(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: '/',
		Description: "Filter",
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddPage(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 's',
		Description: "Sort", Visible: true,
		Handler: func() { a.flash.Info("sorted by " + a.convList.CycleSort().String()) },
	})
	a.registry.AddPage(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "Refresh", Visible: true,
		Handler: func() { a.refresh() },
	})
	a.registry.AddPage(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 'n',
		Description: "New chat", Visible: true,
		Handler: func() {
			a.showPrompt(ui.PromptCommand)
			a.prompt.SetText("start ")
		},
	})
	a.registry.AddPage(pageConversations, &keys.Action{
		Key: tcell.KeyRune, Rune: 'f',
		Description: "Find", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptSearch) },
	})

	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "Compose",
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'm',
		Description: "Older", Visible: true,
		Handler: func() { a.loadMore() },
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "Details", Visible: true,
		Handler: func() { a.showDetails() },
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "Back",
		Handler: func() { a.back() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, _ int) {
		if chatID := a.convList.ChatByIndex(row); chatID != "" {
			a.openChat(chatID)
		}
	})

	a.thread.SetOnSend(func(text string) { a.send(text) })

	a.search.SetOnQuery(func(query string) { a.runSearch(query) })
	a.search.Results().SetSelectedFunc(func(int, int) {
		if chatID, _ := a.search.SelectedResult(); chatID != "" {
			a.openChat(chatID)
		}
	})

	a.login.SetOnLogin(func(token, userID string) { a.doLogin(token, userID) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		case ui.PromptSearch:
			a.showPage(pageSearch)
			a.search.SetQuery(text)
			a.runSearch(text)
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		if len(stack) > 0 {
			a.updateMenu(stack[len(stack)-1])
		}
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.sessionInfo, 42, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 26, 0, false)

	a.pages.AddPage(pageConversations, a.convList, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageDetails, a.info, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageLogin, a.login, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	root.SetBackgroundColor(a.theme.BgColor)

	a.app.SetRoot(root, true)
	a.pages.Reset(pageConversations)
	a.app.SetFocus(a.convList)

	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if a.promptOn {
		return event
	}
	current := a.pages.Current()
	focused := a.app.GetFocus()

	if event.Key() == tcell.KeyEscape {
		switch {
		case focused == a.thread.Composer():
			a.app.SetFocus(a.thread.Messages())
		case current == pageConversations && a.convList.Filter() != "":
			a.convList.ClearFilter()
		case current == pageLogin && !a.vm.LoggedIn():
		default:
			a.back()
		}
		return nil
	}

	if current == pageSearch && event.Key() == tcell.KeyTab {
		if focused == a.search.Input() {
			a.app.SetFocus(a.search.Results())
		} else {
			a.app.SetFocus(a.search.Input())
		}
		return nil
	}

	// Text inputs and the login form get every other key.
	if _, ok := focused.(*tview.InputField); ok || current == pageLogin {
		return event
	}

	if current == pageConversations && event.Key() == tcell.KeyRune {
		if r := event.Rune(); r >= '0' && r <= '9' {
			if r == '0' {
				a.convList.ClearFilter()
			} else if chatID := a.convList.ChatByIndex(int(r - '0')); chatID != "" {
				a.openChat(chatID)
			}
			return nil
		}
	}

	if a.registry.HandleEvent(current, event) {
		return nil
	}
	return event
}

func (a *App) updateMenu(page string) {
	var hints []ui.MenuHint
	if c, ok := a.components[page]; ok {
		hints = append(hints, c.Hints()...)
	}
	a.menu.Update(append(hints, a.registry.Hints(page)...))
}

func (a *App) showPage(name string) {
	a.pages.Push(name)
	a.focusPage(name)
}

func (a *App) back() {
	if a.pages.Pop() == "" {
		return
	}
	a.focusPage(a.pages.Current())
}

func (a *App) focusPage(name string) {
	switch name {
	case pageConversations:
		a.app.SetFocus(a.convList)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageDetails:
		a.app.SetFocus(a.info)
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageLogin:
		a.app.SetFocus(a.login.Form())
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.promptOn = true
	a.body.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptOn = false
	a.body.ResizeItem(a.prompt, 0, 0)
	a.focusPage(a.pages.Current())
}

func (a *App) showLogin(reason string) {
	if a.pages.Current() != pageLogin {
		a.pages.Reset(pageConversations)
		a.pages.Push(pageLogin)
	}
	a.login.Reset()
	if reason == "" {
		reason = "Paste a bearer token. The user ID is read from JWT tokens when left empty."
	}
	a.login.ShowMessage(reason)
	a.focusPage(pageLogin)
}

func (a *App) showDetails() {
	conv, ok := a.vm.Conversation(a.thread.ChatID())
	if !ok {
		return
	}
	a.info.Update(conv, a.vm.Presence(conv.CounterpartID))
	a.showPage(pageDetails)
}

// call runs fn against the daemon off the UI goroutine, then redraws what
// the view model reports as changed.
func (a *App) call(what string, fn func(ctx context.Context) (model.Change, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		change, err := fn(ctx)
		if err != nil {
			if a.ctx.Err() == nil {
				a.flash.Err(what, err)
			}
			return
		}
		a.app.QueueUpdateDraw(func() { a.render(change) })
	}()
}

func (a *App) render(change model.Change) {
	if change.Has(model.ChangeStatus) || change.Has(model.ChangeConversations) {
		a.renderStatus()
	}
	if change.Has(model.ChangeAuth) {
		if !a.vm.LoggedIn() {
			a.convList.Update(nil)
			a.showLogin(a.vm.LastError())
		} else if a.pages.Current() == pageLogin {
			a.pages.Reset(pageConversations)
			a.focusPage(pageConversations)
			a.refresh()
		}
	}
	if change.Has(model.ChangeConversations) {
		a.convList.Update(a.vm.Conversations())
	}
	if change.Has(model.ChangeMessages) && a.thread.ChatID() == a.vm.OpenChatID() {
		a.thread.Update(a.vm.Messages(), a.vm.HasMore())
	}
	if change.Has(model.ChangePresence) {
		conv, ok := a.vm.Conversation(a.thread.ChatID())
		if ok {
			p := a.vm.Presence(conv.CounterpartID)
			a.thread.SetPresence(p)
			if a.pages.Current() == pageDetails {
				a.info.Update(conv, p)
			}
		}
	}
}

func (a *App) renderStatus() {
	st := a.vm.Status()
	if st == nil {
		return
	}
	a.sessionInfo.Update(&ui.SessionData{
		Session:        st.Session,
		UserID:         st.UserID,
		State:          st.State,
		Attempts:       st.Attempts,
		ResyncAttempts: st.ResyncAttempts,
		Conversations:  len(a.vm.Conversations()),
		MessageService: st.MessageService,
		RealtimeHTTP:   st.RealtimeHTTP,
		Uptime:         time.Duration(st.UptimeMs) * time.Millisecond,
	})
}

func (a *App) openChat(chatID string) {
	a.call("open", func(ctx context.Context) (model.Change, error) {
		if err := a.vm.Open(ctx, chatID); err != nil {
			return 0, err
		}
		conv, ok := a.vm.Conversation(chatID)
		if !ok {
			conv = chat.Conversation{ChatID: chatID}
		}
		a.app.QueueUpdateDraw(func() { a.showThread(conv) })
		return model.ChangeMessages, nil
	})
}

// openTarget opens a conversation by chat ID, counterpart ID or name, and
// starts one with the user when none matches.
func (a *App) openTarget(target string) {
	if strings.HasPrefix(target, "chat_") {
		a.openChat(target)
		return
	}
	for _, c := range a.vm.Conversations() {
		if c.CounterpartID == target || strings.EqualFold(c.CounterpartName, target) {
			a.openChat(c.ChatID)
			return
		}
	}
	a.startChat(target, "")
}

func (a *App) startChat(userID, name string) {
	a.call("start", func(ctx context.Context) (model.Change, error) {
		conv, err := a.vm.Start(ctx, userID, name)
		if err != nil {
			return 0, err
		}
		a.app.QueueUpdateDraw(func() { a.showThread(conv) })
		return model.ChangeConversations | model.ChangeMessages, nil
	})
}

func (a *App) showThread(conv chat.Conversation) {
	a.thread.SetConversation(conv, a.vm.SelfID())
	a.thread.SetPresence(a.vm.Presence(conv.CounterpartID))
	a.crumbs.SetTitle(pageThread, a.thread.Name())
	a.pages.Reset(pageConversations)
	a.showPage(pageThread)
}

func (a *App) send(text string) {
	a.call("send", func(ctx context.Context) (model.Change, error) {
		return model.ChangeMessages, a.vm.Send(ctx, text)
	})
}

func (a *App) attach(path, caption string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, time.Minute)
		defer cancel()
		a.flash.Info("uploading " + path + "...")
		resp, err := a.vm.Attach(ctx, path, caption)
		if err != nil {
			a.flash.Err("attach", err)
			return
		}
		a.flash.Info("sent " + resp.Upload.FileName)
		a.app.QueueUpdateDraw(func() { a.render(model.ChangeMessages) })
	}()
}

func (a *App) loadMore() {
	if !a.vm.HasMore() {
		a.flash.Info("no older messages")
		return
	}
	a.call("load older messages", func(ctx context.Context) (model.Change, error) {
		return model.ChangeMessages, a.vm.LoadMore(ctx)
	})
}

func (a *App) runSearch(query string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		resp, err := a.vm.Search(ctx, query)
		if err != nil {
			a.flash.Err("search", err)
			return
		}
		if resp.Local {
			a.flash.Warn("server search unavailable, showing stored messages")
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(resp)
			a.app.SetFocus(a.search.Results())
		})
	}()
}

func (a *App) refresh() {
	a.call("refresh", func(ctx context.Context) (model.Change, error) {
		return model.ChangeConversations, a.vm.LoadConversations(ctx, true)
	})
}

func (a *App) connect() {
	a.call("connect", func(ctx context.Context) (model.Change, error) {
		return model.ChangeStatus, a.vm.Connect(ctx)
	})
}

func (a *App) disconnect() {
	a.call("disconnect", func(ctx context.Context) (model.Change, error) {
		return model.ChangeStatus, a.vm.Disconnect(ctx)
	})
}

func (a *App) doLogin(token, userID string) {
	a.login.ShowMessage("Logging in...")
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		resp, err := a.vm.Login(ctx, token, userID)
		if err != nil {
			a.app.QueueUpdateDraw(func() { a.login.ShowMessage("Login failed: " + err.Error()) })
			return
		}
		a.flash.Info("logged in as " + resp.UserID)
		a.app.QueueUpdateDraw(func() { a.render(model.ChangeAuth | model.ChangeStatus) })
	}()
}

func (a *App) logout() {
	a.call("logout", func(ctx context.Context) (model.Change, error) {
		return model.ChangeAuth | model.ChangeStatus | model.ChangeConversations, a.vm.Logout(ctx)
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := a.vm.LoadStatus(ctx); err != nil {
			a.flash.Err("status", err)
		}
		change := model.ChangeStatus
		if a.vm.LoggedIn() {
			if err := a.vm.LoadConversations(ctx, false); err != nil {
				a.flash.Err("conversations", err)
			}
			change |= model.ChangeConversations
		}
		a.app.QueueUpdateDraw(func() {
			a.render(change)
			if !a.vm.LoggedIn() {
				a.showLogin("")
			}
		})

		go a.watchEvents()
		go a.watchFlash()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// watchEvents follows the daemon's event stream, resubscribing with backoff
// when the stream breaks.
func (a *App) watchEvents() {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2}
	for a.ctx.Err() == nil {
		events, err := a.client.WatchEvents(a.ctx)
		if err == nil {
			for {
				evt, rerr := events.Recv()
				if rerr != nil {
					err = rerr
					break
				}
				b.Reset()
				a.applyEvent(evt)
			}
		}
		if a.ctx.Err() != nil {
			return
		}
		a.flash.Warn("event stream lost, retrying: " + err.Error())
		select {
		case <-time.After(b.Duration()):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) applyEvent(evt *api.Event) {
	ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
	defer cancel()
	change, err := a.vm.Apply(ctx, evt)
	if err != nil {
		a.flash.Err(evt.Kind, err)
	}
	if change != 0 {
		a.app.QueueUpdateDraw(func() { a.render(change) })
	}
}

func (a *App) watchFlash() {
	for {
		select {
		case <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Current()) })
		case <-a.ctx.Done():
			return
		}
	}
}

// startRefreshLoop polls the status for uptime and service health, and
// clears expired flash messages.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
				err := a.vm.LoadStatus(ctx)
				cancel()
				a.app.QueueUpdateDraw(func() {
					if err == nil {
						a.renderStatus()
					}
					a.flashBar.Update(a.flash.Current())
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
