package db

import "time"

type Vote struct {
	ID       string    `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_votes_room_voter" json:"room_id"`
	VoterID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_votes_room_voter" json:"voter_id"`
	TargetID *string   `gorm:"type:uuid" json:"target_id"`
	CastAt   time.Time `gorm:"not null" json:"cast_at"`
}
