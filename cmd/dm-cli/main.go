// Command dm-cli is an interactive terminal client for the messaging
// service. It drives a conversation session over the REST and websocket
// surfaces: type a line to send it, /older to page back, /quit to exit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/taskhive/messaging/internal/client"
	"github.com/taskhive/messaging/internal/session"
	"github.com/taskhive/messaging/pkg/log"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "messaging service base URL")
	wsURL := flag.String("ws", "ws://localhost:8080/chat/ws", "websocket endpoint")
	token := flag.String("token", "", "bearer token (required)")
	self := flag.String("identity", "", "own identity (required)")
	counterparty := flag.String("to", "", "counterparty identity (required)")
	contextID := flag.String("context", "", "optional context scope for the conversation")
	flag.Parse()

	if *token == "" || *self == "" || *counterparty == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.Init(log.Config{Level: "warn", Pretty: true})

	store := client.NewRESTStore(*serverURL, *token)
	channel := client.NewWSChannel(*wsURL, *token)

	engine := session.NewEngine(*self, *counterparty, *contextID, store, channel)
	engine.OnUpdate = func(session.Delta) {
		render(engine)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := engine.Open(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open conversation: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	render(engine)
	fmt.Println("connected. type a message, /older for history, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	draft := ""
	for {
		if draft != "" {
			fmt.Printf("> %s", draft)
		} else {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(draft + scanner.Text())
		draft = ""

		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/older":
			if !engine.HasMoreOlder() {
				fmt.Println("(beginning of conversation)")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := engine.LoadOlder(ctx)
			cancel()
			if err != nil && !errors.Is(err, session.ErrBusy) {
				fmt.Fprintf(os.Stderr, "load failed: %v\n", err)
			}
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := engine.Send(ctx, line)
			cancel()
			if err != nil {
				var sendErr *session.SendFailedError
				if errors.As(err, &sendErr) {
					fmt.Fprintf(os.Stderr, "send failed: %v (draft kept)\n", sendErr.Err)
					draft = sendErr.Draft
					continue
				}
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

func render(e *session.Engine) {
	entries := e.Snapshot()
	fmt.Print("\033[2J\033[H")
	if e.HasMoreOlder() {
		fmt.Println("--- /older for earlier messages ---")
	}
	for _, entry := range entries {
		marker := " "
		if entry.Pending {
			marker = "…"
		}
		ts := entry.Message.CreatedAt.Local().Format("15:04")
		fmt.Printf("[%s] %s %s: %s\n", ts, marker, entry.Message.Sender, entry.Message.Text)
	}
}
