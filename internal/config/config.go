package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile    string
	FilesDir  string
	AdminAddr string
	APIAddr   string
	ServerURL string
	LogLevel  string
	Sync      SyncConfig
}

// SyncConfig tunes the room engine.
type SyncConfig struct {
	MaxHistoricMessages int
	RetentionCap        int
	BadgeCeiling        int
	SoundFreshness      time.Duration
	PageSize            int
	NameMaxLength       int

	PublicRoomName string
	EmptyRoomName  string
	GroupName      string
	DirectName     string
}

func DefaultSync() SyncConfig {
	return SyncConfig{
		MaxHistoricMessages: 50,
		RetentionCap:        100,
		BadgeCeiling:        99,
		SoundFreshness:      30 * time.Second,
		PageSize:            10,
		NameMaxLength:       40,
		PublicRoomName:      "Public Room",
		EmptyRoomName:       "Empty Room",
		GroupName:           "Group",
		DirectName:          "Direct Message",
	}
}

func Load() (*Config, error) {
	sync := DefaultSync()

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_HISTORIC_MESSAGES", &sync.MaxHistoricMessages},
		{"RETENTION_CAP", &sync.RetentionCap},
		{"BADGE_CEILING", &sync.BadgeCeiling},
		{"PAGE_SIZE", &sync.PageSize},
		{"ROOM_NAME_MAX", &sync.NameMaxLength},
	}
	for _, v := range ints {
		if *v.dst, err = getEnvInt(v.key, *v.dst); err != nil {
			return nil, err
		}
	}

	sync.SoundFreshness, err = time.ParseDuration(getEnv("SOUND_FRESHNESS", sync.SoundFreshness.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid SOUND_FRESHNESS: %w", err)
	}

	cfg := &Config{
		DBFile:    getEnv("ROOMSYNC_DB", "roomsync.db"),
		FilesDir:  getEnv("FILES_DIR", "files"),
		AdminAddr: getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:   getEnv("API_ADDR", ":8080"),
		ServerURL: getEnv("SERVER_URL", "ws://localhost:8080/api/ws"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Sync:      sync,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("ROOMSYNC_DB is required")
	}

	if c.FilesDir == "" {
		return fmt.Errorf("FILES_DIR is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	return c.Sync.Validate()
}

func (s SyncConfig) Validate() error {
	if s.MaxHistoricMessages <= 0 {
		return fmt.Errorf("MAX_HISTORIC_MESSAGES must be greater than 0")
	}

	if s.RetentionCap < s.MaxHistoricMessages {
		return fmt.Errorf("RETENTION_CAP must not be less than MAX_HISTORIC_MESSAGES")
	}

	if s.BadgeCeiling <= 0 {
		return fmt.Errorf("BADGE_CEILING must be greater than 0")
	}

	if s.SoundFreshness <= 0 {
		return fmt.Errorf("SOUND_FRESHNESS must be greater than 0")
	}

	if s.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be greater than 0")
	}

	if s.NameMaxLength <= 0 {
		return fmt.Errorf("ROOM_NAME_MAX must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
