package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActionType classifies audit-log entries.
type ActionType string

const (
	ActionLogin           ActionType = "LOGIN"
	ActionLogout          ActionType = "LOGOUT"
	ActionPurchase        ActionType = "PURCHASE"
	ActionDeposit         ActionType = "DEPOSIT"
	ActionWithdraw        ActionType = "WITHDRAW"
	ActionInventoryAccess ActionType = "INVENTORY_ACCESS"
	ActionGameState       ActionType = "GAME_STATE"
	ActionGameDuration    ActionType = "GAME_DURATION"
	ActionJoin            ActionType = "JOIN"
	ActionBan             ActionType = "BAN"
)

// Action is an append-only audit entry. Rows are never updated or deleted.
type Action struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GameID        string         `gorm:"index:idx_action_game;size:36;not null" json:"game_id"`
	PlayerID      string         `gorm:"size:36" json:"player_id"`
	CharacterID   *string        `gorm:"size:36" json:"character_id"`
	ActionType    ActionType     `gorm:"size:32;not null" json:"action_type"`
	ActionDetails datatypes.JSON `json:"action_details"`
	TraceID       string         `gorm:"size:36" json:"trace_id,omitempty"`
	ActivityTime  time.Time      `gorm:"index:idx_action_time;autoCreateTime:milli" json:"activity_time"`
}
