package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/hireme/chatsync/internal/api"
	"github.com/hireme/chatsync/internal/session"
	"github.com/hireme/chatsync/internal/tui/client"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	// Everything after the command name is its arguments, dashes included.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(profile)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profile, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		namespace := ""
		if len(args) > 1 {
			namespace = args[1]
		}
		cmdWatch(ctx, c.Control, namespace, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctl := c.Control
	out := *jsonFlag

	switch args[0] {
	case "status":
		cmdStatus(ctx, ctl, out)
	case "conversations":
		refresh := len(args) > 1 && args[1] == "--refresh"
		cmdConversations(ctx, ctl, refresh, out)
	case "open":
		need(args, 2, "open <conversation-id>")
		check(ctl.OpenConversation(ctx, args[1]))
		fmt.Printf("Opened %s\n", args[1])
	case "messages":
		need(args, 2, "messages <conversation-id> [limit]")
		limit := 50
		if len(args) > 2 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				fail(fmt.Errorf("invalid limit %q", args[2]))
			}
			limit = n
		}
		cmdMessages(ctx, ctl, args[1], limit, out)
	case "search":
		need(args, 2, "search <query>")
		cmdSearch(ctx, ctl, strings.Join(args[1:], " "), out)
	case "send":
		need(args, 3, "send <conversation-id> <text>")
		res, err := ctl.SendMessage(ctx, api.SendRequest{ConversationID: args[1], Text: strings.Join(args[2:], " ")})
		check(err)
		if out {
			outputJSON(res)
			return
		}
		fmt.Printf("Sent %s\n", res.ID)
	case "notifications":
		cmdNotifications(ctx, ctl, out)
	case "dismiss":
		need(args, 2, "dismiss <key>")
		check(ctl.DismissNotification(ctx, args[1]))
	case "presence":
		cmdPresence(ctx, ctl, out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show connection status")
	fmt.Fprintln(os.Stderr, "  conversations [--refresh]   List conversations")
	fmt.Fprintln(os.Stderr, "  open <id>                   Open a conversation")
	fmt.Fprintln(os.Stderr, "  messages <id> [limit]       Show cached messages")
	fmt.Fprintln(os.Stderr, "  search <query>              Search cached messages")
	fmt.Fprintln(os.Stderr, "  send <id> <text>            Send a message")
	fmt.Fprintln(os.Stderr, "  notifications               List notifications")
	fmt.Fprintln(os.Stderr, "  dismiss <key>               Dismiss a notification")
	fmt.Fprintln(os.Stderr, "  presence                    Show who is online")
	fmt.Fprintln(os.Stderr, "  watch [prefix]              Stream daemon events")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: chatctl %s\n", usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func cmdStatus(ctx context.Context, c *api.ControlClient, jsonOut bool) {
	st, err := c.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile: %s\n", st.Profile)
	fmt.Printf("User:    %s\n", st.UserID)
	fmt.Printf("State:   %s\n", st.State)
	if st.RealtimeError != "" {
		fmt.Printf("Error:   %s\n", st.RealtimeError)
	}
	if st.ActiveConversation != "" {
		fmt.Printf("Open:    %s\n", st.ActiveConversation)
	}
	fmt.Printf("Uptime:  %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdConversations(ctx context.Context, c *api.ControlClient, refresh, jsonOut bool) {
	list, err := c.ListConversations(ctx, refresh)
	check(err)
	if jsonOut {
		outputJSON(list)
		return
	}
	if list.Error != "" {
		fail(errors.New(list.Error))
	}
	if len(list.Conversations) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, s := range list.Conversations {
		fmt.Printf("%-38s %-20s %3d  %s\n", s.ID, s.DisplayName(), s.Unread, s.LastMessage)
	}
}

func cmdMessages(ctx context.Context, c *api.ControlClient, id string, limit int, jsonOut bool) {
	list, err := c.ListMessages(ctx, id, limit)
	check(err)
	if jsonOut {
		outputJSON(list)
		return
	}
	for _, m := range list.Messages {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.SenderID, m.Content)
	}
	if len(list.Typing) > 0 {
		fmt.Printf("(%s typing)\n", strings.Join(list.Typing, ", "))
	}
}

func cmdSearch(ctx context.Context, c *api.ControlClient, query string, jsonOut bool) {
	msgs, err := c.SearchMessages(ctx, api.SearchRequest{Query: query, Limit: 50})
	check(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("%s  %s: %s\n", m.ConversationID, m.SenderID, m.Content)
	}
}

func cmdNotifications(ctx context.Context, c *api.ControlClient, jsonOut bool) {
	items, err := c.ListNotifications(ctx)
	check(err)
	if jsonOut {
		outputJSON(api.NotificationList{Notifications: items})
		return
	}
	if len(items) == 0 {
		fmt.Println("No notifications.")
		return
	}
	for _, n := range items {
		fmt.Printf("%-38s %-12s %s: %s\n", n.Key, n.Type, n.Title, n.Body)
	}
}

func cmdPresence(ctx context.Context, c *api.ControlClient, jsonOut bool) {
	p, err := c.ListPresence(ctx)
	check(err)
	if jsonOut {
		outputJSON(p)
		return
	}
	for uid, st := range p {
		state := "offline"
		if st.Online {
			state = "online"
		}
		fmt.Printf("%-30s %s\n", uid, state)
	}
}

func cmdWatch(ctx context.Context, c *api.ControlClient, namespace string, jsonOut bool) {
	stream, err := c.WatchEvents(ctx, namespace)
	check(err)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fail(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		at := time.UnixMilli(evt.OccurredAtMs).Format("15:04:05.000")
		fmt.Printf("%s %-28s %s\n", at, evt.Kind, evt.Payload)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
