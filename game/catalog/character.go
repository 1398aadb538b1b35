package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"gorm.io/gorm"
)

// CharacterInput creates a character.
type CharacterInput struct {
	Name            string `json:"name"`
	AccountNumber   string `json:"account_number"`
	AccountPassword string `json:"account_password"`
	StartingGold    int64  `json:"starting_gold"`
	CanAccessSecret bool   `json:"can_access_secret"`
}

func (in *CharacterInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name required", ErrInvalidInput)
	case in.AccountNumber == "":
		return fmt.Errorf("%w: account number required", ErrInvalidInput)
	case in.AccountPassword == "":
		return fmt.Errorf("%w: account password required", ErrInvalidInput)
	case in.StartingGold < 0:
		return fmt.Errorf("%w: starting gold must be non-negative", ErrInvalidInput)
	}
	return nil
}

func (in CharacterInput) character(gameID string) *model.Character {
	return &model.Character{
		GameID:          gameID,
		Name:            in.Name,
		AccountNumber:   in.AccountNumber,
		AccountPassword: in.AccountPassword,
		StartingGold:    in.StartingGold,
		Gold:            in.StartingGold,
		CanAccessSecret: in.CanAccessSecret,
	}
}

// CharacterPatch updates a character; nil fields are left alone.
type CharacterPatch struct {
	Name            *string `json:"name"`
	AccountNumber   *string `json:"account_number"`
	AccountPassword *string `json:"account_password"`
	Gold            *int64  `json:"gold"`
	CanAccessSecret *bool   `json:"can_access_secret"`
}

// CreateCharacter adds a character with gold set to its starting gold.
func (s *Service) CreateCharacter(ctx context.Context, gameID string, in CharacterInput) (*model.Character, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := store.GetGame(ctx, s.db, gameID); err != nil {
		return nil, err
	}
	c := in.character(gameID)
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create character: %w", err)
	}
	return c, nil
}

func (s *Service) ListCharacters(ctx context.Context, gameID string) ([]model.Character, error) {
	var chars []model.Character
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("created_at ASC").Find(&chars).Error; err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return chars, nil
}

func (s *Service) GetCharacter(ctx context.Context, gameID, id string) (*model.Character, error) {
	return store.GetCharacter(ctx, s.db, gameID, id)
}

func (s *Service) UpdateCharacter(ctx context.Context, gameID, id string, patch CharacterPatch) (*model.Character, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
		}
		updates["name"] = name
	}
	if patch.AccountNumber != nil {
		acct := strings.TrimSpace(*patch.AccountNumber)
		if acct == "" {
			return nil, fmt.Errorf("%w: account number required", ErrInvalidInput)
		}
		updates["account_number"] = acct
	}
	if patch.AccountPassword != nil {
		if *patch.AccountPassword == "" {
			return nil, fmt.Errorf("%w: account password required", ErrInvalidInput)
		}
		updates["account_password"] = *patch.AccountPassword
	}
	if patch.Gold != nil {
		if *patch.Gold < 0 {
			return nil, fmt.Errorf("%w: gold must be non-negative", ErrInvalidInput)
		}
		updates["gold"] = *patch.Gold
	}
	if patch.CanAccessSecret != nil {
		updates["can_access_secret"] = *patch.CanAccessSecret
	}

	c, err := store.GetCharacter(ctx, s.db, gameID, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return c, nil
	}
	if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update character: %w", err)
	}
	return store.GetCharacter(ctx, s.db, gameID, id)
}

// DeleteCharacter removes a character and its items. Players that assumed
// it are logged out.
func (s *Service) DeleteCharacter(ctx context.Context, gameID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND game_id = ?", id, gameID).Delete(&model.Character{})
		if res.Error != nil {
			return fmt.Errorf("delete character: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("character %s: %w", id, store.ErrNotFound)
		}
		if err := tx.Where("character_id = ?", id).Delete(&model.CharacterItem{}).Error; err != nil {
			return fmt.Errorf("delete character items: %w", err)
		}
		return tx.Model(&model.Player{}).
			Where("game_id = ? AND assumed_character_id = ?", gameID, id).
			Update("assumed_character_id", "").Error
	})
}

// ImageKind selects which character image is set.
type ImageKind string

const (
	ImageProfile ImageKind = "profile"
	ImageEmblem  ImageKind = "emblem"
)

// SetCharacterImage stores the public URL of an uploaded image.
func (s *Service) SetCharacterImage(ctx context.Context, gameID, id string, kind ImageKind, url string) (*model.Character, error) {
	col := ""
	switch kind {
	case ImageProfile:
		col = "profile_image"
	case ImageEmblem:
		col = "emblem_image"
	default:
		return nil, fmt.Errorf("%w: image kind %q", ErrInvalidInput, kind)
	}
	c, err := store.GetCharacter(ctx, s.db, gameID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(c).Update(col, url).Error; err != nil {
		return nil, fmt.Errorf("set %s image: %w", kind, err)
	}
	return store.GetCharacter(ctx, s.db, gameID, id)
}
