package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type RoomType int

const (
	RoomTypeInvalid  RoomType = 0
	RoomTypeGroup    RoomType = 1
	RoomTypeOneToOne RoomType = 2
	RoomTypePublic   RoomType = 4
)

func (t RoomType) String() string {
	switch t {
	case RoomTypeGroup:
		return "group"
	case RoomTypeOneToOne:
		return "one-to-one"
	case RoomTypePublic:
		return "public"
	}
	return "invalid"
}

type MembershipStatus string

const (
	MembershipOwner   MembershipStatus = "owner"
	MembershipMember  MembershipStatus = "member"
	MembershipInvited MembershipStatus = "invited"
	MembershipClosed  MembershipStatus = "closed"
)

// Joined reports whether the status counts as being in the room.
func (s MembershipStatus) Joined() bool {
	return s == MembershipOwner || s == MembershipMember
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// User represents a user in the system.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Presence Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Server timestamp (milliseconds)
}

// RoomMeta is the room metadata node.
type RoomMeta struct {
	Name        string   `json:"name,omitempty"`
	Type        RoomType `json:"type"`
	Image       string   `json:"image,omitempty"`
	Created     int64    `json:"created,omitempty"`
	UserCreated string   `json:"userCreated,omitempty"`
}

// Membership is one user's record under a room's users node.
type Membership struct {
	UserID string           `json:"-"`
	Status MembershipStatus `json:"status"`
	Time   int64            `json:"time"`
	Name   string           `json:"name,omitempty"`
}

// Payload holds the type specific part of a message.
type Payload struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message represents a chat message held in a room's window.
//
// PreviousID and NextID link neighbours in display order. They are derived locally and
// rebuilt whenever the window changes.
type Message struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Date       int64       `json:"date"` // Server timestamp (milliseconds)
	UserID     string      `json:"uid"`
	To         []string    `json:"to,omitempty"`
	Payload    Payload     `json:"payload"`
	Read       bool        `json:"-"`
	Flagged    bool        `json:"-"`
	PreviousID string      `json:"-"`
	NextID     string      `json:"-"`
}

// Text is a one line rendering used by transcripts and flag records.
func (m *Message) Text() string {
	switch m.Type {
	case MessageTypeImage:
		return m.Payload.URL
	case MessageTypeFile:
		if m.Payload.Name != "" {
			return m.Payload.Name
		}
		return m.Payload.URL
	}
	return m.Payload.Text
}

// Flag is a record in the flagged message log.
type Flag struct {
	Creator string `json:"creator"`
	From    string `json:"from"`
	Text    string `json:"text"`
	Room    string `json:"room"`
	Date    int64  `json:"date"`
}
