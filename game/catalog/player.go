package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
)

// Join registers the identity playerID in a game in setup or running.
// Joining again renames the player.
func (s *Service) Join(ctx context.Context, gameID, playerID, name string) (*model.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: player name required", ErrInvalidInput)
	}
	g, err := store.GetGame(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	if g.GameState == model.GameStateEnd {
		return nil, ErrGameEnded
	}

	p, err := store.GetPlayer(ctx, s.db, gameID, playerID)
	switch {
	case err == nil:
		if p.PlayerName != name {
			if err := s.db.WithContext(ctx).Model(p).Update("player_name", name).Error; err != nil {
				return nil, fmt.Errorf("rename player: %w", err)
			}
		}
		return p, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	p = &model.Player{ID: playerID, GameID: gameID, PlayerName: name, LoginMode: model.LoginModeNormal}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("join game: %w", err)
	}
	s.record(audit.Entry{GameID: gameID, PlayerID: playerID, Type: model.ActionJoin,
		Details: map[string]string{"player_name": name}})
	s.logger.Info("player joined", zap.String("game_id", gameID), zap.String("player_id", playerID))
	return p, nil
}

func (s *Service) ListPlayers(ctx context.Context, gameID string) ([]model.Player, error) {
	var players []model.Player
	if err := s.db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("created_at ASC").Find(&players).Error; err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return players, nil
}

// SetBanned bans or unbans a player. A banned player is logged out.
func (s *Service) SetBanned(ctx context.Context, gameID, playerID string, banned bool) (*model.Player, error) {
	p, err := store.GetPlayer(ctx, s.db, gameID, playerID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"is_banned": banned}
	if banned {
		updates["assumed_character_id"] = ""
	}
	if err := s.db.WithContext(ctx).Model(p).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("ban player: %w", err)
	}
	s.record(audit.Entry{GameID: gameID, PlayerID: playerID, Type: model.ActionBan,
		Details: map[string]bool{"banned": banned}})
	return store.GetPlayer(ctx, s.db, gameID, playerID)
}

// Logout clears the character a player assumed.
func (s *Service) Logout(ctx context.Context, gameID, playerID string) error {
	p, err := store.GetPlayer(ctx, s.db, gameID, playerID)
	if err != nil {
		return err
	}
	if p.AssumedCharacterID == "" {
		return nil
	}
	if err := store.SetAssumedCharacter(ctx, s.db, gameID, playerID, "", ""); err != nil {
		return err
	}
	s.record(audit.Entry{GameID: gameID, PlayerID: playerID, CharacterID: p.AssumedCharacterID, Type: model.ActionLogout})
	return nil
}

// PlayerView is what a player may see about itself.
type PlayerView struct {
	Player    *model.Player    `json:"player"`
	Character *model.Character `json:"character,omitempty"`
	Items     map[string]int   `json:"items,omitempty"`
}

// Me returns the player's own details and its assumed character, without
// the account password.
func (s *Service) Me(ctx context.Context, gameID, playerID string) (*PlayerView, error) {
	p, err := store.GetPlayer(ctx, s.db, gameID, playerID)
	if err != nil {
		return nil, err
	}
	view := &PlayerView{Player: p}
	if p.AssumedCharacterID == "" {
		return view, nil
	}
	c, err := store.GetCharacter(ctx, s.db, gameID, p.AssumedCharacterID)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	c.AccountPassword = ""
	items, err := store.CharacterItems(ctx, s.db, c.ID)
	if err != nil {
		return nil, err
	}
	view.Character = c
	view.Items = items
	return view, nil
}

// ShopItem is an item as listed to a player.
type ShopItem struct {
	model.Item
	Available bool `json:"available"`
	Unlocked  bool `json:"unlocked"`
}

// Shop lists the items the player's assumed character may see. Secret items
// only show in secret mode for characters with secret access.
func (s *Service) Shop(ctx context.Context, gameID, playerID string) ([]ShopItem, error) {
	view, err := s.Me(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	items, err := store.ListItems(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	secret := view.Character != nil && view.Character.CanAccessSecret &&
		view.Player.LoginMode == model.LoginModeSecret
	out := make([]ShopItem, 0, len(items))
	for i := range items {
		it := &items[i]
		if it.IsSecret && !secret {
			continue
		}
		out = append(out, ShopItem{
			Item:      *it,
			Available: rules.IsAvailable(it),
			Unlocked:  rules.CheckPrerequisites(it, view.Items),
		})
	}
	return out, nil
}

// Purchases lists the purchase history of the player's assumed character.
func (s *Service) Purchases(ctx context.Context, gameID, playerID string) ([]model.PurchaseRecord, error) {
	p, err := store.GetPlayer(ctx, s.db, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if p.AssumedCharacterID == "" {
		return []model.PurchaseRecord{}, nil
	}
	return store.ListPurchases(ctx, s.db, gameID, p.AssumedCharacterID)
}
