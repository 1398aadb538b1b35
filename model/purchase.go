package model

import (
	"time"

	"gorm.io/datatypes"
)

// PurchaseStatus moves pending → approved|rejected exactly once.
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchaseApproved PurchaseStatus = "approved"
	PurchaseRejected PurchaseStatus = "rejected"
)

// ApprovedLine is the fulfilled quantity of one cart entry at its unit price.
type ApprovedLine struct {
	Quantity int   `json:"quantity"`
	Price    int64 `json:"price"`
}

// PurchaseRecord is a character's purchase-history entry. ID equals the id
// of the PURCHASE_ATTEMPT message that created it.
type PurchaseRecord struct {
	ID             string                                      `gorm:"primaryKey;size:36" json:"id"`
	GameID         string                                      `gorm:"index:idx_purchase_game;size:36;not null" json:"game_id"`
	CharacterID    string                                      `gorm:"index:idx_purchase_char;size:36;not null" json:"character_id"`
	PlayerID       string                                      `gorm:"size:36;not null" json:"player_id"`
	RequestTime    time.Time                                   `json:"request_time"`
	RequestedItems datatypes.JSONType[map[string]int]          `json:"requested_items"`
	Status         PurchaseStatus                              `gorm:"size:16;not null;default:pending" json:"status"`
	ApprovedItems  datatypes.JSONType[map[string]ApprovedLine] `json:"approved_items"`
	ApprovedPrice  *int64                                      `json:"approved_price"`
	Reason         string                                      `gorm:"size:255" json:"reason,omitempty"`
	ResolvedAt     *time.Time                                  `json:"resolved_at"`
}
