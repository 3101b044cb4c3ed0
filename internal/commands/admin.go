package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"roomsync/internal/api"
	"roomsync/internal/backend"
	"roomsync/internal/config"
	"roomsync/internal/models"
)

func adminURL(cfg *config.Config, endpoint string) string {
	return fmt.Sprintf("http://%s%s", cfg.AdminAddr, endpoint)
}

func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("failed to %s (Status: %d): %s", what, resp.StatusCode, string(body))
}

// Dump prints the node at path as indented JSON.
func Dump(path string, cfg *config.Config) error {
	resp, err := http.Get(adminURL(cfg, "/admin/nodes?path="+url.QueryEscape(path)))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp, "read node"); err != nil {
		return err
	}

	var snap backend.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// CreatePublicRoom seeds a public room and prints its ID.
func CreatePublicRoom(name string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.CreateRoomRequest{Name: name, Type: models.RoomTypePublic})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(adminURL(cfg, "/admin/rooms"), "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp, "create room"); err != nil {
		return err
	}

	var result api.CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nRoom Created Successfully!\n")
	fmt.Printf("Name:    %s\n", name)
	fmt.Printf("Room ID: %s\n\n", result.RoomID)
	return nil
}

// Flagged prints the moderation queue.
func Flagged(cfg *config.Config) error {
	resp, err := http.Get(adminURL(cfg, "/admin/flagged"))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp, "list flagged messages"); err != nil {
		return err
	}

	var flagged []api.FlaggedMessage
	if err := json.NewDecoder(resp.Body).Decode(&flagged); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(flagged) == 0 {
		fmt.Println("No flagged messages.")
		return nil
	}
	for _, m := range flagged {
		fmt.Printf("%s  room=%s  from=%s  by=%s\n    %s\n", m.MessageID, m.RoomID, m.From, m.Creator, m.Text)
	}
	return nil
}
