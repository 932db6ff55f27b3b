package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/shopchat/internal/api"
	"github.com/matheus3301/shopchat/internal/client"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fail(err)
	}
	name := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "list":
		cmdList(ctx, c, *jsonFlag)
	case "open":
		peer := need(args, 1, "open <peer>")
		conv, err := c.Open(ctx, peer)
		check(err)
		printConversation(conv, *jsonFlag)
	case "history":
		peer := need(args, 1, "history <peer>")
		conv, err := c.GetConversation(ctx, peer)
		check(err)
		printConversation(conv, *jsonFlag)
	case "send":
		peer := need(args, 2, "send <peer> <text>")
		resp, err := c.SendText(ctx, peer, strings.Join(args[2:], " "))
		check(err)
		printSend(resp, *jsonFlag)
	case "image":
		peer := need(args, 2, "image <peer> <ref>")
		resp, err := c.SendImage(ctx, peer, args[2])
		check(err)
		printSend(resp, *jsonFlag)
	case "type":
		peer := need(args, 1, "type <peer> [text]")
		check(c.Typing(ctx, peer, strings.Join(args[2:], " ")))
	case "delete":
		peer := need(args, 2, "delete <peer> <message-id>")
		removed, err := c.DeleteMessage(ctx, peer, args[2])
		check(err)
		if *jsonFlag {
			outputJSON(api.DeleteMessageResponse{Removed: removed})
			return
		}
		if removed {
			fmt.Println("Deleted.")
		} else {
			fmt.Println("No such message.")
		}
	case "close":
		check(c.CloseConversation(ctx, need(args, 1, "close <peer>")))
	case "forget":
		check(c.Forget(ctx, need(args, 1, "forget <peer>")))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: shopchatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  list                   List stored conversations")
	fmt.Fprintln(os.Stderr, "  open <peer>            Open a conversation")
	fmt.Fprintln(os.Stderr, "  history <peer>         Show an open conversation")
	fmt.Fprintln(os.Stderr, "  send <peer> <text>     Send a text message")
	fmt.Fprintln(os.Stderr, "  image <peer> <ref>     Send an image reference")
	fmt.Fprintln(os.Stderr, "  type <peer> [text]     Report compose text (typing signal)")
	fmt.Fprintln(os.Stderr, "  delete <peer> <id>     Delete a message locally")
	fmt.Fprintln(os.Stderr, "  close <peer>           Close a conversation")
	fmt.Fprintln(os.Stderr, "  forget <peer>          Delete a stored conversation")
	fmt.Fprintln(os.Stderr, "  watch [peer]           Stream events")
}

func need(args []string, n int, usage string) string {
	if len(args) <= n {
		fmt.Fprintf(os.Stderr, "usage: shopchatctl %s\n", usage)
		os.Exit(1)
	}
	return args[1]
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:       %s\n", resp.Profile)
	fmt.Printf("User:          %s\n", resp.UserID)
	fmt.Printf("Uptime:        %dms\n", resp.UptimeMs)
	fmt.Printf("Open:          %d\n", resp.OpenSessions)
	fmt.Printf("Conversations: %d\n", resp.StoredConversations)
}

func cmdList(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.ListConversations(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations found.")
		return
	}
	for _, conv := range resp.Conversations {
		state := "closed"
		if conv.Open {
			state = "open"
		}
		updated := time.UnixMilli(conv.UpdatedAtUnixMs).Format(time.DateTime)
		fmt.Printf("%-30s %4d msgs  %s (%s)\n", conv.Key, conv.MessageCount, updated, state)
	}
}

func cmdWatch(c *client.Client, args []string, jsonOut bool) {
	peer := ""
	if len(args) > 0 {
		peer = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events, err := c.Watch(ctx, peer)
	check(err)
	for {
		evt, err := events.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		check(err)
		if jsonOut {
			outputJSON(evt)
			continue
		}
		at := time.UnixMilli(evt.OccurredAtUnixMs).Format("15:04:05.000")
		fmt.Printf("%s %-26s %-20s %s\n", at, evt.Kind, evt.Key, evt.Detail)
	}
}

func printConversation(conv *api.Conversation, jsonOut bool) {
	if jsonOut {
		outputJSON(conv)
		return
	}
	presence := "offline"
	if conv.PeerOnline {
		presence = "online"
	}
	if conv.PeerTyping {
		presence += ", typing"
	}
	fmt.Printf("%s  %s (%s)  [%s]\n", conv.Key, conv.PeerID, presence, conv.Connection)
	for _, m := range conv.Messages {
		body := m.Text
		if m.Kind == "image" {
			body = "[image] " + m.AttachmentRef
		}
		at := time.UnixMilli(m.CreatedAtUnixMs).Format(time.DateTime)
		fmt.Printf("%s %-10s %-9s %s  (%s)\n", at, m.SenderID, m.Status, body, m.ID)
	}
}

func printSend(resp *api.SendResponse, jsonOut bool) {
	if jsonOut {
		outputJSON(resp)
		return
	}
	if !resp.Sent {
		fmt.Println("Nothing to send.")
		return
	}
	fmt.Printf("Sent %s (%s)\n", resp.Message.ID, resp.Message.Status)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
