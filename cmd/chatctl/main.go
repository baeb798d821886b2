// chatctl is a terminal chat client against a running chatd. It logs in
// through the dev token endpoint, keeps the live channel open and renders
// the peer list, unread badges and the open conversation as plain text.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Alicia-74/libroredsocial/internal/chat"
	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/session"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

func main() {
	userID := flag.String("user", "", "user id to log in as")
	username := flag.String("name", "", "display name (defaults to the user id)")
	follow := flag.String("follow", "", "comma-separated user ids to follow on login")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatctl -user <id> [-name <display name>] [-follow id1,id2]")
		os.Exit(1)
	}
	if *username == "" {
		*username = *userID
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Keep structured logs out of the interactive session.
	cfg.Log.Level = "error"
	cfg.Log.ServiceName = "chatctl"
	log.Init(cfg.Log)

	tok, err := login(cfg.API.BaseURL, cfg.API.Timeout, *userID, *username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	creds := session.NewMemoryCredentials(tok)
	client := chat.New(cfg, creds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	for _, id := range splitList(*follow) {
		if err := followUser(cfg.API.BaseURL, cfg.API.Timeout, tok, *userID, id); err != nil {
			fmt.Fprintf(os.Stderr, "follow %s failed: %v\n", id, err)
		}
	}

	fmt.Printf("logged in as %s; /help for commands\n", client.UserID())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Updates():
				render(client)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/help":
			printHelp()
		case line == "/peers":
			printPeers(client)
		case strings.HasPrefix(line, "/open "):
			peerID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			opCtx, opCancel := context.WithTimeout(ctx, cfg.API.Timeout)
			if err := client.OpenConversation(opCtx, peerID); err != nil {
				fmt.Printf("! %v\n", err)
			}
			opCancel()
		case line == "/close":
			client.CloseConversation()
		case line == "/status":
			fmt.Printf("connection: %s, open: %q\n", client.ConnectionState(), client.ActivePeer())
		case strings.HasPrefix(line, "/"):
			fmt.Printf("! unknown command %s\n", line)
		default:
			if _, err := client.Send(line); err != nil {
				fmt.Printf("! send failed: %v (message kept as pending)\n", err)
			}
		}
	}
}

func printHelp() {
	fmt.Println("/peers            list chat partners with unread badges")
	fmt.Println("/open <user-id>   open the conversation with a peer")
	fmt.Println("/close            close the open conversation")
	fmt.Println("/status           show connection state")
	fmt.Println("/quit             exit")
	fmt.Println("anything else is sent to the open conversation")
}

func printPeers(client *chat.Client) {
	peers := client.Peers()
	if len(peers) == 0 {
		fmt.Println("(no chat partners yet)")
		return
	}
	unread := client.UnreadCounts()
	for _, p := range peers {
		badge := ""
		if n := unread[p.ID]; n > 0 {
			badge = fmt.Sprintf(" [%d unread]", n)
		}
		preview := p.LastMessage
		if preview != "" {
			preview = "  " + preview
		}
		name := p.Username
		if name == "" {
			name = p.ID
		}
		fmt.Printf("%s (%s)%s%s\n", name, p.ID, badge, preview)
	}
}

func render(client *chat.Client) {
	active := client.ActivePeer()
	if active == "" {
		return
	}
	fmt.Printf("\n--- conversation with %s ---\n", active)
	for _, msg := range client.Messages() {
		who := msg.SenderID
		if who == client.UserID() {
			who = "me"
		}
		marker := ""
		if msg.Provisional {
			marker = " (sending...)"
		}
		fmt.Printf("[%s] %s: %s%s\n", msg.SentAt.Format("15:04:05"), who, msg.Content, marker)
	}
	fmt.Print("> ")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type tokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

func login(baseURL string, timeout time.Duration, userID, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"user_id":  userID,
		"username": username,
	})

	httpc := &http.Client{Timeout: timeout}
	resp, err := httpc.Post(strings.TrimRight(baseURL, "/")+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Data.Token == "" {
		return "", fmt.Errorf("token endpoint returned no token")
	}
	return tr.Data.Token, nil
}

func followUser(baseURL string, timeout time.Duration, tok, userID, followeeID string) error {
	body, _ := json.Marshal(map[string]string{"followee_id": followeeID})

	url := fmt.Sprintf("%s/users/%s/follow", strings.TrimRight(baseURL, "/"), userID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	httpc := &http.Client{Timeout: timeout}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("follow endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
