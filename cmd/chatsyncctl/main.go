package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "init" {
		cmdInit(args[1:])
		return
	}

	sessionName, err := session.Resolve(*sessionFlag, session.ConfigPath())
	if err != nil {
		fatal(err)
	}

	c, conn, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fatal(fmt.Errorf("cannot connect to daemon for profile %q: %w", sessionName, err))
	}
	defer func() { _ = conn.Close() }()

	cli := &ctl{client: c, session: sessionName, json: *jsonFlag}

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cli.watch(ctx, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cli.status(ctx)
	case "call":
		if len(args) < 2 {
			usageError("call <dial|accept|reject|hangup|mute|camera|info|history>")
		}
		cli.call(ctx, args[1], args[2:])
	case "msg":
		if len(args) < 2 {
			usageError("msg <seed|load|previews|open|close|list|send|retry|react|star|delete|edit>")
		}
		cli.msg(ctx, args[1], args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init --server <url> --user <id> [--token <t>]   Write the config file")
	fmt.Fprintln(os.Stderr, "  status                                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  watch [namespace]                              Stream daemon events")
	fmt.Fprintln(os.Stderr, "  call dial <peer> [audio|video]                 Start a call")
	fmt.Fprintln(os.Stderr, "  call accept|reject|hangup                      Answer or end the call")
	fmt.Fprintln(os.Stderr, "  call mute|camera                               Toggle local media")
	fmt.Fprintln(os.Stderr, "  call info                                      Show the current call")
	fmt.Fprintln(os.Stderr, "  call history [peer]                            List logged calls")
	fmt.Fprintln(os.Stderr, "  msg seed <file.json>                           Load conversations")
	fmt.Fprintln(os.Stderr, "  msg load <conversation> <file.json> [older]    Load a history page")
	fmt.Fprintln(os.Stderr, "  msg previews                                   List conversation previews")
	fmt.Fprintln(os.Stderr, "  msg open <conversation> | msg close            Change the open conversation")
	fmt.Fprintln(os.Stderr, "  msg list [conversation]                        List cached messages")
	fmt.Fprintln(os.Stderr, "  msg send <conversation> <text>                 Send a message")
	fmt.Fprintln(os.Stderr, "  msg retry <temp-id>                            Retry a failed send")
	fmt.Fprintln(os.Stderr, "  msg react <conversation> <message> <emoji>     Toggle a reaction")
	fmt.Fprintln(os.Stderr, "  msg star <conversation> <message>              Toggle a star")
	fmt.Fprintln(os.Stderr, "  msg delete <conversation> <message> [everyone] Delete a message")
	fmt.Fprintln(os.Stderr, "  msg edit <conversation> <message> <text>       Edit a message")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageError(usage string) {
	fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
	os.Exit(1)
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	server := fs.String("server", "", "websocket server URL")
	user := fs.String("user", "", "user id")
	token := fs.String("token", "", "bearer token")
	profile := fs.String("default-session", session.DefaultName, "default profile")
	force := fs.Bool("force", false, "overwrite an existing config")
	_ = fs.Parse(args)

	path := session.ConfigPath()
	if _, err := os.Stat(path); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists (use --force to overwrite)", path))
	}

	cfg := config.Default()
	cfg.ServerURL = *server
	cfg.UserID = *user
	cfg.Token = *token
	cfg.DefaultSession = *profile
	if err := session.ValidateName(*profile); err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if err := config.Save(path, cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

type ctl struct {
	client  *api.Client
	session string
	json    bool
}

func (c *ctl) invoke(ctx context.Context, service, method string, req map[string]any) map[string]any {
	resp, err := c.client.Call(ctx, service, method, req)
	if err != nil {
		fatal(err)
	}
	return resp
}

func (c *ctl) status(ctx context.Context) {
	resp, err := c.client.Call(ctx, api.SessionServiceName, "GetStatus", nil)
	if err != nil {
		if pid, held := lock.Holder(session.Dir(c.session)); held {
			fatal(fmt.Errorf("daemon for profile %q is running (PID %d) but not answering: %w", c.session, pid, err))
		}
		fatal(fmt.Errorf("daemon for profile %q is not running", c.session))
	}
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %v\n", resp["session"])
	fmt.Printf("User:    %v\n", resp["user_id"])
	fmt.Printf("Status:  %v\n", resp["status"])
	fmt.Printf("Uptime:  %s\n", millis(resp["uptime_ms"]).Round(time.Second))
	if ms, ok := resp["last_event_ms"].(float64); ok {
		fmt.Printf("Last event: %s\n", time.UnixMilli(int64(ms)).Format(time.RFC3339))
	}
	fmt.Printf("Outbox:  %v pending\n", resp["outbox_pending"])
}

func (c *ctl) watch(ctx context.Context, args []string) {
	req := map[string]any{}
	if len(args) > 0 {
		req["namespace"] = args[0]
	}
	err := c.client.Watch(ctx, api.SessionServiceName, "WatchEvents", req, func(evt map[string]any) error {
		if c.json {
			return json.NewEncoder(os.Stdout).Encode(evt)
		}
		payload, _ := json.Marshal(evt["payload"])
		at := time.UnixMilli(int64(evt["occurred_at_ms"].(float64)))
		fmt.Printf("%s %-32v %s\n", at.Format("15:04:05.000"), evt["kind"], payload)
		return nil
	})
	if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		fatal(err)
	}
}

func (c *ctl) call(ctx context.Context, sub string, args []string) {
	var resp map[string]any
	switch sub {
	case "dial":
		if len(args) < 1 {
			usageError("call dial <peer> [audio|video]")
		}
		req := map[string]any{"peer": args[0]}
		if len(args) > 1 {
			req["media"] = args[1]
		}
		resp = c.invoke(ctx, api.CallServiceName, "Dial", req)
	case "accept", "reject", "hangup":
		resp = c.invoke(ctx, api.CallServiceName, strings.ToUpper(sub[:1])+sub[1:], nil)
	case "mute":
		resp = c.invoke(ctx, api.CallServiceName, "ToggleMute", nil)
	case "camera":
		resp = c.invoke(ctx, api.CallServiceName, "ToggleCamera", nil)
	case "info":
		resp = c.invoke(ctx, api.CallServiceName, "GetCall", nil)
	case "history":
		req := map[string]any{}
		if len(args) > 0 {
			req["peer"] = args[0]
		}
		resp = c.invoke(ctx, api.CallServiceName, "History", req)
		if !c.json {
			printCalls(resp)
			return
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown call subcommand: %s\n", sub)
		os.Exit(1)
	}
	if c.json {
		outputJSON(resp)
		return
	}
	printCall(resp)
}

func printCall(resp map[string]any) {
	if _, ok := resp["state"]; !ok {
		for k, v := range resp {
			fmt.Printf("%s: %v\n", k, v)
		}
		return
	}
	fmt.Printf("State:     %v\n", resp["state"])
	if resp["state"] == "idle" {
		return
	}
	fmt.Printf("Peer:      %v (%v)\n", resp["peer"], resp["direction"])
	fmt.Printf("Media:     %v\n", resp["media"])
	fmt.Printf("Call ID:   %v\n", resp["call_id"])
	fmt.Printf("Muted:     %v  Camera off: %v\n", resp["muted"], resp["camera_off"])
	if c, ok := resp["connection"].(string); ok && c != "" {
		fmt.Printf("Transport: %s\n", c)
	}
}

func printCalls(resp map[string]any) {
	calls, _ := resp["calls"].([]any)
	if len(calls) == 0 {
		fmt.Println("No calls logged.")
		return
	}
	for _, raw := range calls {
		e := raw.(map[string]any)
		fmt.Printf("%-20v %-16v %-6v %-6v %-10v %vs\n", e["started_at"], e["peer"], e["direction"], e["media"], e["outcome"], e["duration_s"])
	}
}

func (c *ctl) msg(ctx context.Context, sub string, args []string) {
	need := func(n int, usage string) {
		if len(args) < n {
			usageError("msg " + usage)
		}
	}
	var resp map[string]any
	switch sub {
	case "seed":
		need(1, "seed <file.json>")
		req := readJSON(args[0])
		resp = c.invoke(ctx, api.MessageServiceName, "Seed", req)
	case "load":
		need(2, "load <conversation> <file.json> [older]")
		req := readJSON(args[1])
		req["conversation_id"] = args[0]
		req["older"] = len(args) > 2 && args[2] == "older"
		resp = c.invoke(ctx, api.MessageServiceName, "Load", req)
	case "previews":
		resp = c.invoke(ctx, api.MessageServiceName, "Previews", nil)
		if !c.json {
			printPreviews(resp)
			return
		}
	case "open":
		need(1, "open <conversation>")
		resp = c.invoke(ctx, api.MessageServiceName, "Open", map[string]any{"conversation_id": args[0]})
		if !c.json {
			printMessages(resp)
			return
		}
	case "close":
		resp = c.invoke(ctx, api.MessageServiceName, "Close", nil)
	case "list":
		req := map[string]any{}
		if len(args) > 0 {
			req["conversation_id"] = args[0]
		}
		resp = c.invoke(ctx, api.MessageServiceName, "List", req)
		if !c.json {
			printMessages(resp)
			return
		}
	case "send":
		need(2, "send <conversation> <text>")
		resp = c.invoke(ctx, api.MessageServiceName, "Send", map[string]any{
			"conversation_id": args[0],
			"content":         strings.Join(args[1:], " "),
		})
	case "retry":
		need(1, "retry <temp-id>")
		resp = c.invoke(ctx, api.MessageServiceName, "Retry", map[string]any{"temp_id": args[0]})
	case "react":
		need(3, "react <conversation> <message> <emoji>")
		resp = c.invoke(ctx, api.MessageServiceName, "React", target(args, map[string]any{"emoji": args[2]}))
	case "star":
		need(2, "star <conversation> <message>")
		resp = c.invoke(ctx, api.MessageServiceName, "Star", target(args, nil))
	case "delete":
		need(2, "delete <conversation> <message> [everyone]")
		resp = c.invoke(ctx, api.MessageServiceName, "Delete", target(args, map[string]any{
			"for_everyone": len(args) > 2 && args[2] == "everyone",
		}))
	case "edit":
		need(3, "edit <conversation> <message> <text>")
		resp = c.invoke(ctx, api.MessageServiceName, "Edit", target(args, map[string]any{
			"content": strings.Join(args[2:], " "),
		}))
	default:
		fmt.Fprintf(os.Stderr, "unknown msg subcommand: %s\n", sub)
		os.Exit(1)
	}
	outputJSON(resp)
}

func target(args []string, extra map[string]any) map[string]any {
	req := map[string]any{"conversation_id": args[0], "message_id": args[1]}
	for k, v := range extra {
		req[k] = v
	}
	return req
}

func readJSON(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		fatal(fmt.Errorf("parse %s: %w", path, err))
	}
	return out
}

func printPreviews(resp map[string]any) {
	previews, _ := resp["previews"].([]any)
	if len(previews) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, raw := range previews {
		p := raw.(map[string]any)
		last := ""
		if lm, ok := p["lastMessage"].(map[string]any); ok {
			last = fmt.Sprint(lm["content"])
		}
		pin := " "
		if p["pinned"] == true {
			pin = "*"
		}
		fmt.Printf("%s %-24v %-24v %3v  %s\n", pin, p["conversationId"], p["title"], p["unreadCount"], last)
	}
}

func printMessages(resp map[string]any) {
	msgs, _ := resp["messages"].([]any)
	if id, _ := resp["conversation_id"].(string); id != "" {
		fmt.Printf("Conversation %s\n", id)
	}
	for _, raw := range msgs {
		m := raw.(map[string]any)
		flags := ""
		if m["edited"] == true {
			flags += " (edited)"
		}
		if m["deleted"] == true {
			flags += " (deleted)"
		}
		fmt.Printf("[%-9v] %-12v %v%s\n", m["status"], m["senderId"], m["content"], flags)
	}
}

func millis(v any) time.Duration {
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Millisecond
	case string:
		ms, _ := strconv.ParseInt(n, 10, 64)
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
