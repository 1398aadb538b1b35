package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
)

// ItemInput creates a shop item.
type ItemInput struct {
	ItemNumber  int    `json:"item_number"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Prereqs     string `json:"prereqs"`
	IsSecret    bool   `json:"is_secret"`
}

// ItemPatch updates an item; nil fields are left alone.
type ItemPatch struct {
	ItemNumber  *int    `json:"item_number"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Quantity    *int    `json:"quantity"`
	Price       *int64  `json:"price"`
	Prereqs     *string `json:"prereqs"`
	IsSecret    *bool   `json:"is_secret"`
}

// normalizePrereqs trims the list and keeps LOCKED as is.
func normalizePrereqs(p string) string {
	p = strings.TrimSpace(p)
	if p == model.PrereqsLocked {
		return p
	}
	return strings.Join(rules.ParsePrereqs(p), ",")
}

func (s *Service) CreateItem(ctx context.Context, gameID string, in ItemInput) (*model.Item, error) {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
	case in.Quantity < 0:
		return nil, fmt.Errorf("%w: quantity must be non-negative", ErrInvalidInput)
	case in.Price < 0:
		return nil, fmt.Errorf("%w: price must be non-negative", ErrInvalidInput)
	}
	if _, err := store.GetGame(ctx, s.db, gameID); err != nil {
		return nil, err
	}
	it := &model.Item{
		GameID:      gameID,
		ItemNumber:  in.ItemNumber,
		Name:        in.Name,
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
		Prereqs:     normalizePrereqs(in.Prereqs),
		IsSecret:    in.IsSecret,
	}
	if err := s.db.WithContext(ctx).Create(it).Error; err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return it, nil
}

func (s *Service) ListItems(ctx context.Context, gameID string) ([]model.Item, error) {
	return store.ListItems(ctx, s.db, gameID)
}

func (s *Service) UpdateItem(ctx context.Context, gameID, id string, patch ItemPatch) (*model.Item, error) {
	updates := map[string]interface{}{}
	if patch.ItemNumber != nil {
		updates["item_number"] = *patch.ItemNumber
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
		}
		updates["name"] = name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return nil, fmt.Errorf("%w: quantity must be non-negative", ErrInvalidInput)
		}
		updates["quantity"] = *patch.Quantity
	}
	if patch.Price != nil {
		if *patch.Price < 0 {
			return nil, fmt.Errorf("%w: price must be non-negative", ErrInvalidInput)
		}
		updates["price"] = *patch.Price
	}
	if patch.Prereqs != nil {
		updates["prereqs"] = normalizePrereqs(*patch.Prereqs)
	}
	if patch.IsSecret != nil {
		updates["is_secret"] = *patch.IsSecret
	}

	it, err := store.GetItem(ctx, s.db, gameID, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return it, nil
	}
	if err := s.db.WithContext(ctx).Model(it).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return store.GetItem(ctx, s.db, gameID, id)
}

func (s *Service) DeleteItem(ctx context.Context, gameID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND game_id = ?", id, gameID).Delete(&model.Item{})
	if res.Error != nil {
		return fmt.Errorf("delete item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	return nil
}
