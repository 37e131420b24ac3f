package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/status"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
	SelfColor         tcell.Color
	PeerColor         tcell.Color
	OnlineColor       tcell.Color
	OfflineColor      tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorAqua,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrange,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorAqua,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		NumericKeyColor:   tcell.ColorFuchsia,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
		SelfColor:         tcell.ColorLightSkyBlue,
		PeerColor:         tcell.ColorPaleGreen,
		OnlineColor:       tcell.ColorLime,
		OfflineColor:      tcell.ColorGray,
	}
}

// StateColor returns the color a connection state is drawn in.
func (t *Theme) StateColor(s status.State) tcell.Color {
	switch s {
	case status.Connected:
		return t.OnlineColor
	case status.Connecting:
		return t.FlashWarnColor
	case status.Error:
		return t.FlashErrColor
	default:
		return t.OfflineColor
	}
}

// StatusMark returns the delivery marker shown after a message.
func (t *Theme) StatusMark(s chat.Status) string {
	switch s {
	case chat.StatusPending:
		return "[" + ColorName(t.OfflineColor) + "]…[-]"
	case chat.StatusDelivered:
		return "[" + ColorName(t.FgColor) + "]✓[-]"
	case chat.StatusRead:
		return "[" + ColorName(t.OnlineColor) + "]✓✓[-]"
	case chat.StatusFailed:
		return "[" + ColorName(t.FlashErrColor) + "]! failed[-]"
	}
	return ""
}
