package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/pkg/client"
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket endpoint")
	token := flag.String("token", "", "Identity token from POST /auth/sync")
	conversation := flag.String("conversation", "", "Conversation id to join")
	userID := flag.String("user", "", "Own user id (for outgoing messages)")
	flag.Parse()

	if *token == "" || *conversation == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: client -token <jwt> -conversation <id> -user <id> [-url ws://...]")
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	c := client.New(client.Options{
		URL:   *serverURL,
		Token: *token,
		Log:   log,
		OnStateChange: func(s client.State) {
			fmt.Printf("*** %s ***\n", s)
		},
	})

	c.Subscribe(domain.EventNewMessage, func(data json.RawMessage) {
		var msg domain.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		fmt.Printf("[%s]: %s\n", msg.SenderID, msg.Content)
	})
	c.Subscribe(domain.EventUserJoined, func(data json.RawMessage) {
		var p domain.UserJoinedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fmt.Printf("*** %s joined ***\n", p.UserID)
	})
	c.Subscribe(domain.EventUserLeft, func(data json.RawMessage) {
		var p domain.UserLeftPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fmt.Printf("*** %s left (%s) ***\n", p.UserID, p.Reason)
	})
	c.Subscribe(domain.EventUserStatusChange, func(data json.RawMessage) {
		var p domain.UserStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fmt.Printf("*** %s is %s ***\n", p.UserID, p.Status)
	})
	c.Subscribe(domain.EventInitialOnlineUsers, func(data json.RawMessage) {
		var users []domain.OnlineUser
		if err := json.Unmarshal(data, &users); err != nil {
			return
		}
		for _, u := range users {
			fmt.Printf("*** online: %s ***\n", u.UserID)
		}
	})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.JoinConversation(*conversation); err != nil {
		fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		if err := c.SendMessage(*conversation, *userID, text); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}

	c.LeaveConversation(*conversation)
}
