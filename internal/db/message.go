package db

import (
	"time"

	"gorm.io/datatypes"
)

type Message struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RoomID    string         `gorm:"type:uuid;index;not null" json:"room_id"`
	PlayerID  *string        `gorm:"type:uuid" json:"player_id"`
	Kind      string         `gorm:"size:16;not null;default:system" json:"kind"`
	Body      string         `gorm:"not null" json:"body"`
	Meta      datatypes.JSON `gorm:"type:jsonb;not null" json:"meta"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}
