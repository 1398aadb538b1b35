package model

import (
	"time"

	"gorm.io/gorm"
)

// Character is a role-played bank/shop account. Players assume characters
// by logging in with the account number and password.
type Character struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	GameID          string    `gorm:"index:idx_char_game;size:36;not null" json:"game_id"`
	Name            string    `gorm:"size:64;not null" json:"name"`
	ProfileImage    string    `gorm:"size:255" json:"profile_image"`
	EmblemImage     string    `gorm:"size:255" json:"emblem_image"`
	AccountNumber   string    `gorm:"index:idx_char_account;size:64;not null" json:"account_number"`
	AccountPassword string    `gorm:"size:64;not null" json:"account_password,omitempty"`
	StartingGold    int64     `gorm:"default:0" json:"starting_gold"`
	Gold            int64     `gorm:"default:0" json:"gold"`
	CanAccessSecret bool      `gorm:"default:false" json:"can_access_secret"`
	CreatedAt       time.Time `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Character) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// CharacterItem is one entry of a character's items map (itemId → quantity).
type CharacterItem struct {
	CharacterID string    `gorm:"primaryKey;size:36" json:"character_id"`
	ItemID      string    `gorm:"primaryKey;size:36" json:"item_id"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// OwnedItems folds inventory rows into an itemId → quantity map.
func OwnedItems(rows []CharacterItem) map[string]int {
	owned := make(map[string]int, len(rows))
	for _, r := range rows {
		owned[r.ItemID] += r.Quantity
	}
	return owned
}
