package db

import (
	"time"

	"gorm.io/datatypes"
)

type Script struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string         `gorm:"size:200;not null" json:"title"`
	Background string         `gorm:"not null;default:''" json:"background"`
	Answer     string         `gorm:"not null;default:''" json:"answer"`
	Locations  datatypes.JSON `gorm:"type:jsonb;not null" json:"locations"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	Roles      []Role         `json:"-"`
}

type Role struct {
	ID         string `gorm:"type:uuid;primaryKey" json:"id"`
	ScriptID   string `gorm:"type:uuid;index;not null" json:"script_id"`
	Position   int    `gorm:"not null;default:0" json:"position"`
	Name       string `gorm:"size:128;not null" json:"name"`
	PublicInfo string `gorm:"not null;default:''" json:"public_info"`
	Secret     string `gorm:"not null;default:''" json:"secret"`
	Mission    string `gorm:"not null;default:''" json:"mission"`
}
