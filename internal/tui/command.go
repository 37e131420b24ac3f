package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Split returns the first word of the arguments and the rest.
func (c Command) Split() (string, string) {
	first, rest, _ := strings.Cut(c.Args, " ")
	return first, strings.TrimSpace(rest)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit", "exit":
		a.Stop()
	case "h", "help":
		a.showPage(pageHelp)
	case "s", "search":
		a.showPage(pageSearch)
		if cmd.Args != "" {
			a.search.SetQuery(cmd.Args)
			a.runSearch(cmd.Args)
		}
	case "start", "new":
		userID, name := cmd.Split()
		if userID == "" {
			a.flash.Warn("usage: :start <userId> [name]")
			return
		}
		a.startChat(userID, name)
	case "o", "open", "chat":
		if cmd.Args == "" {
			a.flash.Warn("usage: :open <userId|chatId>")
			return
		}
		a.openTarget(cmd.Args)
	case "attach", "file":
		path, caption := cmd.Split()
		if path == "" {
			a.flash.Warn("usage: :attach <path> [caption]")
			return
		}
		a.attach(path, caption)
	case "more":
		a.loadMore()
	case "r", "refresh":
		a.refresh()
	case "connect":
		a.connect()
	case "disconnect":
		a.disconnect()
	case "login":
		a.showLogin("")
	case "logout":
		a.logout()
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}
