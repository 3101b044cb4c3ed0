package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"roomsync/internal/api"
	"roomsync/internal/config"
	"roomsync/internal/content"
	"roomsync/internal/events"
	"roomsync/internal/models"
	"roomsync/internal/room"
	"roomsync/internal/session"
	"roomsync/internal/ws"
)

const help = `Commands:
  /more           load older messages
  /typing         show that you are typing
  /flag <id>      flag or unflag a message
  /read           mark the room read
  /transcript     print the message window
  /file <name> <url>
  /upload <path>  upload a file and share it
  /leave          leave the room and quit
  /quit           quit
Anything else is sent as a message.`

func main() {
	userID := flag.String("user", "", "User ID (alphanumeric, dot, dash, underscore)")
	name := flag.String("name", "", "Display name (defaults to the user ID)")
	roomID := flag.String("room", "", "Room to open")
	create := flag.String("create", "", "Create a group room with this name instead of opening one")
	with := flag.String("with", "", "Comma separated user IDs to add to a created room")
	flag.Parse()

	if err := content.ValidateUsername(*userID); err != nil {
		fmt.Printf("Invalid user: %v\n", err)
		os.Exit(1)
	}
	if *roomID == "" && *create == "" {
		fmt.Println("Usage: chat -user <id> (-room <id> | -create <name> [-with a,b])")
		os.Exit(1)
	}
	if *name == "" {
		*name = *userID
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := chat(ctx, models.User{ID: *userID, Name: *name}, *roomID, *create, *with); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func chat(ctx context.Context, me models.User, roomID, create, with string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := ws.Dial(ctx, cfg.ServerURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	s := session.New(client, me, cfg.Sync)
	stop, err := s.Start(ctx)
	if err != nil {
		return err
	}
	defer stop()

	rooms := room.NewRegistry(s)
	defer rooms.OffAll()

	var r *room.Room
	if create != "" {
		members := []string{me.ID}
		for _, id := range strings.Split(with, ",") {
			if id = strings.TrimSpace(id); id != "" {
				members = append(members, id)
			}
		}
		if r, err = rooms.Create(ctx, create, models.RoomTypeGroup, members); err != nil {
			return err
		}
		if err := r.On(ctx); err != nil {
			return err
		}
		if err := r.UpdateType(ctx); err != nil {
			return err
		}
	} else {
		r = rooms.GetOrCreate(roomID)
	}

	evs, unsubscribe := s.Bus.Subscribe(256)
	defer unsubscribe()

	if err := r.Open(ctx, -1, 0); err != nil {
		return err
	}
	defer func() { _ = r.Close(context.Background()) }()
	if err := r.SetActive(ctx, true); err != nil {
		return err
	}

	fmt.Printf("Joined %q (%s, %d members, %d online)\n", r.Name(), r.Type(), r.UserCount(), r.OnlineUserCount())
	fmt.Println(help)
	fmt.Print(r.Transcript())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	typing := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.Done():
			return client.Err()
		case e := <-evs:
			printEvent(r, e)
			if msg := r.TypingMessage(); msg != typing {
				typing = msg
				if typing != "" {
					fmt.Printf("  (%s)\n", typing)
				}
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, cfg.ServerURL, r, line)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, serverURL string, r *room.Room, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/leave":
		return true, r.Leave(ctx)
	case "/more":
		if older := r.LoadMoreMessages(ctx, 0); len(older) == 0 {
			fmt.Println("No older messages.")
		}
		return false, nil
	case "/typing":
		return false, r.StartTyping(ctx)
	case "/flag":
		return false, r.ToggleMessageFlag(ctx, arg)
	case "/read":
		return false, r.MarkRead(ctx)
	case "/transcript":
		fmt.Print(r.Transcript())
		return false, nil
	case "/file":
		fileName, link, _ := strings.Cut(arg, " ")
		return false, r.SendFileMessage(ctx, fileName, "", link)
	case "/upload":
		up, err := upload(ctx, serverURL, r.ID(), arg)
		if err != nil {
			return false, err
		}
		return false, r.SendFileMessage(ctx, up.Name, up.MimeType, up.URL)
	}

	if err := r.FinishTyping(ctx); err != nil {
		return false, err
	}
	return false, r.SendTextMessage(ctx, line)
}

// upload posts the file at path to the server the websocket URL points at.
func upload(ctx context.Context, serverURL, roomID, path string) (api.UploadResponse, error) {
	var up api.UploadResponse

	u, err := url.Parse(serverURL)
	if err != nil {
		return up, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/api/files"
	u.RawQuery = url.Values{"name": {filepath.Base(path)}, "room": {roomID}}.Encode()

	f, err := os.Open(path)
	if err != nil {
		return up, err
	}
	defer func() { _ = f.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), f)
	if err != nil {
		return up, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return up, fmt.Errorf("failed to upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return up, fmt.Errorf("failed to upload (Status: %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return up, fmt.Errorf("failed to decode response: %w", err)
	}

	// Attachment URLs are relative to the server.
	u.Path, u.RawQuery = up.URL, ""
	up.URL = u.String()
	return up, nil
}

func printEvent(r *room.Room, e events.Event) {
	if e.RoomID != "" && e.RoomID != r.ID() {
		return
	}

	switch e.Type {
	case events.ChatUpdated, events.LazyLoadedMessages:
		for _, m := range e.Messages {
			printMessage(m)
		}
	case events.PlayReceivedSound:
		fmt.Print("\a")
	case events.BadgeChanged:
		if e.Badge > 0 {
			fmt.Printf("  [%d unread]\n", e.Badge)
		}
	case events.RoomRemoved:
		fmt.Println("  [room removed]")
	case events.UserOnlineStateChanged:
		if r.ContainsUser(e.UserID) {
			state := "offline"
			if e.Online {
				state = "online"
			}
			fmt.Printf("  [%s is %s]\n", e.UserID, state)
		}
	}
}

func printMessage(m models.Message) {
	ts := time.UnixMilli(m.Date).Format("15:04")
	switch m.Type {
	case models.MessageTypeImage:
		fmt.Printf("%s %s [%s] image %s (%dx%d)\n", ts, m.UserID, m.ID, m.Payload.URL, m.Payload.Width, m.Payload.Height)
	case models.MessageTypeFile:
		fmt.Printf("%s %s [%s] file %s (%s) %s\n", ts, m.UserID, m.ID, m.Payload.Name, m.Payload.MimeType, m.Payload.URL)
	default:
		fmt.Printf("%s %s [%s] %s\n", ts, m.UserID, m.ID, m.Text())
	}
}
