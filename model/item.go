package model

import (
	"time"

	"gorm.io/gorm"
)

// PrereqsLocked marks an item as permanently unavailable in the shop.
const PrereqsLocked = "LOCKED"

// Item is a shop entry. Quantity is the remaining stock.
type Item struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	GameID      string    `gorm:"index:idx_item_game;size:36;not null" json:"game_id"`
	ItemNumber  int       `gorm:"default:0" json:"item_number"`
	Name        string    `gorm:"size:64;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Quantity    int       `gorm:"default:0" json:"quantity"`
	Price       int64     `gorm:"default:0" json:"price"`
	Prereqs     string    `gorm:"size:512" json:"prereqs"` // comma-separated item ids, or LOCKED
	IsSecret    bool      `gorm:"default:false" json:"is_secret"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
