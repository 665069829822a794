package db

import "time"

type Room struct {
	ID           string      `gorm:"type:uuid;primaryKey" json:"id"`
	Phase        string      `gorm:"size:32;not null;default:waiting" json:"phase"`
	HostPlayerID *string     `gorm:"type:uuid" json:"host_player_id"`
	ScriptID     *string     `gorm:"type:uuid;index" json:"script_id"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
	Players      []Player    `json:"-"`
	Timers       []RoomTimer `json:"-"`
}

// RoomTimer is the persisted start of one timed phase. A slot is written at
// most once per room.
type RoomTimer struct {
	RoomID    string    `gorm:"type:uuid;primaryKey" json:"room_id"`
	Slot      string    `gorm:"size:32;primaryKey" json:"slot"`
	StartedAt time.Time `gorm:"not null" json:"started_at"`
}
