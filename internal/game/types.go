package game

import (
	"encoding/json"
	"time"
)

type Room struct {
	ID           string               `json:"id"`
	Phase        Phase                `json:"phase"`
	HostPlayerID string               `json:"host_player_id,omitempty"`
	ScriptID     string               `json:"script_id,omitempty"`
	Timers       map[string]time.Time `json:"timers,omitempty"`
}

// TimerStart returns the persisted start of slot, if any.
func (r Room) TimerStart(slot string) (time.Time, bool) {
	at, ok := r.Timers[slot]
	return at, ok && !at.IsZero()
}

type Player struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	RoleID      string    `json:"role_id,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// HasRole reports whether the player has claimed a character.
func (p Player) HasRole() bool {
	return p.RoleID != ""
}

type Role struct {
	ID         string `json:"id"`
	ScriptID   string `json:"script_id"`
	Name       string `json:"name"`
	PublicInfo string `json:"public_info"`
	Secret     string `json:"secret"`
	Mission    string `json:"mission"`
}

// Script is the generated story a room plays. Locations are opaque to the
// session and only stored for content tooling.
type Script struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Background string          `json:"background"`
	Answer     string          `json:"answer"`
	Locations  json.RawMessage `json:"locations,omitempty"`
}

// Vote is a single immutable ballot. An empty TargetID is an abstention.
type Vote struct {
	RoomID   string    `json:"room_id"`
	VoterID  string    `json:"voter_id"`
	TargetID string    `json:"target_id,omitempty"`
	CastAt   time.Time `json:"cast_at"`
}

func (v Vote) Abstained() bool {
	return v.TargetID == ""
}

type TimerStart struct {
	Slot      string    `json:"slot"`
	StartedAt time.Time `json:"started_at"`
}

type ChangeKind string

const (
	ChangeRoom   ChangeKind = "room"
	ChangePlayer ChangeKind = "player"
	ChangeTimer  ChangeKind = "timer"
	ChangeVote   ChangeKind = "vote"
	// ChangeResync tells subscribers that notifications may have been lost and
	// the room must be re-read.
	ChangeResync ChangeKind = "resync"
)

// Change is one committed write delivered by a Notifier. Only the field that
// matches Kind is populated.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	RoomID  string     `json:"room_id"`
	Deleted bool       `json:"deleted,omitempty"`
	Room    Room       `json:"room,omitzero"`
	Player  Player     `json:"player,omitzero"`
	Timer   TimerStart `json:"timer,omitzero"`
	Vote    Vote       `json:"vote,omitzero"`
}
