package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/pairchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// LoginView asks for a bearer token and, for opaque tokens, the user ID.
type LoginView struct {
	*tview.Flex
	theme   *ui.Theme
	form    *tview.Form
	message *tview.TextView
	onLogin func(token, userID string)
}

// NewLoginView creates a new login form.
func NewLoginView(theme *ui.Theme) *LoginView {
	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.BgColor)
	message.SetTextColor(theme.FgColor)

	form := tview.NewForm()
	form.SetBackgroundColor(theme.BgColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.BorderColor)
	form.SetButtonTextColor(theme.TableHeaderFg)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(message, 3, 0, false).
		AddItem(form, 0, 1, true)
	flex.SetBorder(true)
	flex.SetBorderColor(theme.BorderColor)
	flex.SetBackgroundColor(theme.BgColor)
	flex.SetTitle(" Login Required ")
	flex.SetTitleColor(theme.TitleColor)

	lv := &LoginView{
		Flex:    flex,
		theme:   theme,
		form:    form,
		message: message,
	}

	form.AddPasswordField("Token", "", 64, '*', nil).
		AddInputField("User ID", "", 32, nil, nil).
		AddButton("Login", lv.submit)

	return lv
}

// Name implements Component.
func (lv *LoginView) Name() string { return "login" }

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "tab", Description: "Next field"},
		{Key: "enter", Description: "Login"},
	}
}

// SetOnLogin sets the callback when the form is submitted.
func (lv *LoginView) SetOnLogin(fn func(token, userID string)) {
	lv.onLogin = fn
}

// ShowMessage displays a status line above the form.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "\n%s", tview.Escape(msg))
}

// Reset clears the entered token.
func (lv *LoginView) Reset() {
	lv.form.GetFormItemByLabel("Token").(*tview.InputField).SetText("")
	lv.form.SetFocus(0)
}

// Form returns the form (for focus management).
func (lv *LoginView) Form() *tview.Form {
	return lv.form
}

func (lv *LoginView) submit() {
	token := strings.TrimSpace(lv.form.GetFormItemByLabel("Token").(*tview.InputField).GetText())
	userID := strings.TrimSpace(lv.form.GetFormItemByLabel("User ID").(*tview.InputField).GetText())
	if token == "" {
		lv.ShowMessage("A token is required.")
		return
	}
	if lv.onLogin != nil {
		lv.onLogin(token, userID)
	}
}
