package db

import "time"

type Player struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID      string    `gorm:"type:uuid;index;not null" json:"room_id"`
	DisplayName string    `gorm:"size:64;not null" json:"display_name"`
	IsHost      bool      `gorm:"not null;default:false" json:"is_host"`
	RoleID      *string   `gorm:"type:uuid" json:"role_id"`
	JoinedAt    time.Time `gorm:"not null" json:"joined_at"`
}
