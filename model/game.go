package model

import (
	"time"

	"gorm.io/gorm"
)

// GameState is the lifecycle phase of a game session.
type GameState string

const (
	GameStateSetup   GameState = "setup"
	GameStateRunning GameState = "running"
	GameStateEnd     GameState = "end"
)

// Valid reports whether s is one of the known states.
func (s GameState) Valid() bool {
	switch s {
	case GameStateSetup, GameStateRunning, GameStateEnd:
		return true
	}
	return false
}

// DefaultGameDurationMs is one hour.
const DefaultGameDurationMs int64 = 3_600_000

// Game is one live escape-room session.
type Game struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	AdminID      string     `gorm:"index:idx_game_admin;size:36;not null" json:"admin_id"`
	Name         string     `gorm:"size:64" json:"name"`
	GameState    GameState  `gorm:"size:16;not null;default:setup" json:"game_state"`
	GameDuration int64      `gorm:"not null" json:"game_duration"` // ms
	CreatedTime  time.Time  `gorm:"autoCreateTime" json:"created_time"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
}

func (g *Game) BeforeCreate(*gorm.DB) error {
	assignID(&g.ID)
	if g.GameState == "" {
		g.GameState = GameStateSetup
	}
	if g.GameDuration <= 0 {
		g.GameDuration = DefaultGameDurationMs
	}
	return nil
}
