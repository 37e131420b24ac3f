package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	timeout := 10 * time.Second
	if args[0] == "send" {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := &printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		resp, err := c.GetStatus(ctx)
		out.status(resp, err)
	case "login":
		if len(args) < 2 {
			usage("login <token> [userId]")
		}
		userID := ""
		if len(args) > 2 {
			userID = args[2]
		}
		resp, err := c.Login(ctx, args[1], userID)
		if err != nil {
			fatal(err)
		}
		if out.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("Logged in as %s\n", resp.UserID)
		if resp.ExpiresAt > 0 {
			fmt.Printf("Token expires %s\n", time.UnixMilli(resp.ExpiresAt).Format(time.RFC3339))
		}
	case "logout":
		if err := c.Logout(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("Logged out.")
	case "connect":
		resp, err := c.Connect(ctx)
		out.status(resp, err)
	case "disconnect":
		resp, err := c.Disconnect(ctx)
		out.status(resp, err)
	case "conversations":
		fs := flag.NewFlagSet("conversations", flag.ExitOnError)
		refresh := fs.Bool("refresh", false, "fetch the list from the server first")
		_ = fs.Parse(args[1:])
		resp, err := c.ListConversations(ctx, *refresh)
		if err != nil {
			fatal(err)
		}
		out.conversations(resp.Conversations)
	case "start":
		if len(args) < 2 {
			usage("start <userId> [name]")
		}
		name := ""
		if len(args) > 2 {
			name = strings.Join(args[2:], " ")
		}
		resp, err := c.StartConversation(ctx, args[1], name)
		if err != nil {
			fatal(err)
		}
		out.conversations([]chat.Conversation{resp.Conversation})
	case "open":
		if len(args) < 2 {
			usage("open <chatId>")
		}
		resp, err := c.OpenConversation(ctx, args[1])
		out.messages(resp, err)
	case "more":
		resp, err := c.LoadMore(ctx)
		out.messages(resp, err)
	case "messages":
		resp, err := c.ListMessages(ctx)
		out.messages(resp, err)
	case "send":
		cmdSend(ctx, c, out, args[1:])
	case "search":
		cmdSearch(ctx, c, out, args[1:])
	case "online":
		if len(args) < 2 {
			usage("online <userId>")
		}
		resp, err := c.OnlineStatus(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		if out.json {
			outputJSON(resp.Status)
			return
		}
		state := "offline"
		if resp.Status.Online {
			state = "online"
		}
		fmt.Printf("%s is %s\n", resp.Status.UserID, state)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pairchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show session and connection status")
	fmt.Fprintln(os.Stderr, "  login <token> [userId]      Store a bearer token and connect")
	fmt.Fprintln(os.Stderr, "  logout                      Forget the token and disconnect")
	fmt.Fprintln(os.Stderr, "  connect                     Open the realtime connection")
	fmt.Fprintln(os.Stderr, "  disconnect                  Close the realtime connection")
	fmt.Fprintln(os.Stderr, "  conversations [--refresh]   List conversations")
	fmt.Fprintln(os.Stderr, "  start <userId> [name]       Start or open a conversation with a user")
	fmt.Fprintln(os.Stderr, "  open <chatId>               Open a conversation")
	fmt.Fprintln(os.Stderr, "  more                        Load older messages")
	fmt.Fprintln(os.Stderr, "  messages                    Show the open conversation")
	fmt.Fprintln(os.Stderr, "  send <text>                 Send a text message")
	fmt.Fprintln(os.Stderr, "  send --file <path> [text]   Upload a file and send it")
	fmt.Fprintln(os.Stderr, "  search [--chat id] [--local] <keyword>")
	fmt.Fprintln(os.Stderr, "                              Search messages")
	fmt.Fprintln(os.Stderr, "  online <userId>             Show a user's presence")
	fmt.Fprintln(os.Stderr, "  watch [namespace...]        Stream daemon events")
}

func cmdSend(ctx context.Context, c *api.Client, out *printer, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	file := fs.String("file", "", "file to upload and send")
	_ = fs.Parse(args)
	text := strings.Join(fs.Args(), " ")

	if *file != "" {
		resp, err := c.UploadMedia(ctx, &api.UploadMediaRequest{Path: *file, Send: true, Caption: text})
		if err != nil {
			fatal(err)
		}
		if out.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("Uploaded %s (%d bytes)\n", resp.Upload.FileName, resp.Upload.FileSize)
		if resp.Message != nil {
			out.message(*resp.Message)
		}
		return
	}

	if text == "" {
		usage("send <text>")
	}
	resp, err := c.SendMessage(ctx, &api.SendMessageRequest{Content: text})
	if err != nil {
		fatal(err)
	}
	if out.json {
		outputJSON(resp.Message)
		return
	}
	out.message(resp.Message)
}

func cmdSearch(ctx context.Context, c *api.Client, out *printer, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	chatID := fs.String("chat", "", "limit to one conversation")
	local := fs.Bool("local", false, "search stored messages only")
	page := fs.Int("page", 1, "result page")
	_ = fs.Parse(args)
	keyword := strings.Join(fs.Args(), " ")
	if keyword == "" {
		usage("search [--chat id] [--local] <keyword>")
	}

	resp, err := c.Search(ctx, &api.SearchRequest{Keyword: keyword, ChatID: *chatID, Page: *page, Local: *local})
	if err != nil {
		fatal(err)
	}
	if out.json {
		outputJSON(resp)
		return
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, m := range resp.Messages {
		fmt.Printf("%-24s ", m.ChatID)
		out.message(m)
	}
	if resp.Local {
		fmt.Println("(local results)")
	} else if resp.HasNext {
		fmt.Printf("more results: --page %d\n", *page+1)
	}
}

func cmdWatch(c *api.Client, namespaces []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := c.WatchEvents(ctx, namespaces...)
	if err != nil {
		fatal(err)
	}
	for {
		evt, err := events.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		ts := time.UnixMilli(evt.OccurredAtMs).Format("15:04:05.000")
		if len(evt.Payload) > 0 {
			fmt.Printf("%s %-28s %s\n", ts, evt.Kind, evt.Payload)
		} else {
			fmt.Printf("%s %s\n", ts, evt.Kind)
		}
	}
}

type printer struct {
	json bool
}

func (p *printer) status(resp *api.StatusResponse, err error) {
	if err != nil {
		fatal(err)
	}
	if p.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:    %s\n", resp.Session)
	if resp.LoggedIn {
		fmt.Printf("User:       %s\n", resp.UserID)
	} else {
		fmt.Println("User:       (login required)")
	}
	fmt.Printf("Connection: %s", resp.State)
	if resp.Attempts > 0 {
		fmt.Printf(" (reconnect attempt %d)", resp.Attempts)
	}
	fmt.Println()
	if resp.OpenChatID != "" {
		fmt.Printf("Open chat:  %s\n", resp.OpenChatID)
	}
	fmt.Printf("Chats:      %d\n", resp.Conversations)
	fmt.Printf("Services:   messages=%s realtime=%s\n", upDown(resp.MessageService), upDown(resp.RealtimeHTTP))
	fmt.Printf("Uptime:     %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func (p *printer) conversations(convs []chat.Conversation) {
	if p.json {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range convs {
		name := c.CounterpartName
		if name == "" {
			name = c.CounterpartID
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d]", c.UnreadCount)
		}
		fmt.Printf("%-24s %-16s %s%s\n", c.ChatID, name, c.LastMessagePreview, unread)
	}
}

func (p *printer) messages(resp *api.MessagesResponse, err error) {
	if err != nil {
		fatal(err)
	}
	if p.json {
		outputJSON(resp)
		return
	}
	if resp.HasMore {
		fmt.Println("(older messages available: pairchatctl more)")
	}
	for _, m := range resp.Messages {
		p.message(m)
	}
}

func (p *printer) message(m chat.Message) {
	ts := time.UnixMilli(m.Timestamp).Format("01-02 15:04")
	text := chat.Preview(m.Type, m.Content, m.Media)
	if m.Type == chat.TypeText {
		text = m.Content
	}
	fmt.Printf("%s %-12s %s (%s)\n", ts, m.SenderID, text, m.Status)
}

func upDown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

func usage(cmd string) {
	fmt.Fprintf(os.Stderr, "usage: pairchatctl %s\n", cmd)
	os.Exit(1)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
