package model

import "time"

// LoginMode selects which catalog and skin a player's device shows.
type LoginMode string

const (
	LoginModeNormal    LoginMode = "normal"
	LoginModeSecret    LoginMode = "secret"
	LoginModeInventory LoginMode = "inventory"
)

func (m LoginMode) Valid() bool {
	switch m {
	case LoginModeNormal, LoginModeSecret, LoginModeInventory:
		return true
	}
	return false
}

// Player is an identity (device) that joined a game. ID is the identity
// provider's user id.
type Player struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	GameID             string    `gorm:"primaryKey;size:36" json:"game_id"`
	PlayerName         string    `gorm:"size:64" json:"player_name"`
	LoginMode          LoginMode `gorm:"size:16;default:normal" json:"login_mode"`
	IsBanned           bool      `gorm:"default:false" json:"is_banned"`
	AssumedCharacterID string    `gorm:"size:36" json:"assumed_character_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LoginFailure tracks failed login attempts of one player against one character.
type LoginFailure struct {
	GameID            string     `gorm:"primaryKey;size:36" json:"game_id"`
	PlayerID          string     `gorm:"primaryKey;size:36" json:"player_id"`
	CharacterID       string     `gorm:"primaryKey;size:36" json:"character_id"`
	RemainingAttempts int        `gorm:"not null" json:"remaining_attempts"`
	LockUntil         *time.Time `json:"lock_until"`
}
