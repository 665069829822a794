package roomstore

import (
	"context"
	"fmt"
	"time"

	"murder-mystery/internal/game"
)

// Membership manages who is in a room and which story it plays. Session code
// only observes its effects through notifications.
type Membership interface {
	CreateRoom(ctx context.Context) (game.Room, error)
	// AddPlayer appends a player. The first player of a room becomes its host.
	// Ended rooms take no new players.
	AddPlayer(ctx context.Context, roomID, displayName string) (game.Player, error)
	// RemovePlayer drops a player. A departing host hands the flag to the
	// earliest-joined remaining player; the last player out deletes the room.
	RemovePlayer(ctx context.Context, roomID, playerID string) (Departure, error)
	SaveScript(ctx context.Context, script game.Script, roles []game.Role) (game.Script, []game.Role, error)
	// AttachScript points a room at a saved script. Only allowed before role
	// selection starts, since it replaces the room's role list.
	AttachScript(ctx context.Context, roomID, scriptID string) (game.Room, error)
}

type Departure struct {
	Player     game.Player
	NewHost    *game.Player
	RoomClosed bool
}

// Backend is everything a process needs to host sessions against one store.
type Backend interface {
	game.Store
	game.Notifier
	game.Messenger
	Membership
	Close() error
}

// Message is a chat line as persisted by a Messenger.
type Message struct {
	RoomID   string    `json:"room_id"`
	Text     string    `json:"text"`
	System   bool      `json:"system"`
	PostedAt time.Time `json:"posted_at"`
}

func leaveMessage(name string) string {
	return fmt.Sprintf("%s has left the room", name)
}

func joinMessage(name string, host bool) string {
	if host {
		return fmt.Sprintf("%s has created the room", name)
	}
	return fmt.Sprintf("%s has joined the room", name)
}

// scriptAttachable reports whether a room in phase p may still change script.
func scriptAttachable(p game.Phase) bool {
	return p == game.PhaseWaiting || p == game.PhaseIntroduction
}
