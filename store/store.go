// Package store holds the gorm queries shared by the game services. Every
// function takes the *gorm.DB to run on so callers can pass a transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientGold  = errors.New("insufficient gold")
	// ErrConflict means a conditional update matched no row.
	ErrConflict = errors.New("conflict")
)

// ForUpdate makes the next read on db lock the rows it returns until the
// surrounding transaction ends. SQLite has no row locks and serialises
// writers instead; the clause is dropped there.
func ForUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

// ---- games ----

func GetGame(ctx context.Context, db *gorm.DB, id string) (*model.Game, error) {
	var g model.Game
	if err := db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "game", id)
	}
	return &g, nil
}

// ---- characters ----

func GetCharacter(ctx context.Context, db *gorm.DB, gameID, id string) (*model.Character, error) {
	var c model.Character
	if err := db.WithContext(ctx).First(&c, "id = ? AND game_id = ?", id, gameID).Error; err != nil {
		return nil, notFound(err, "character", id)
	}
	return &c, nil
}

// FirstCharacterByAccount returns the oldest character in the game with the
// exact account number, or ErrNotFound.
func FirstCharacterByAccount(ctx context.Context, db *gorm.DB, gameID, account string) (*model.Character, error) {
	var c model.Character
	err := db.WithContext(ctx).
		Where("game_id = ? AND account_number = ?", gameID, account).
		Order("created_at ASC, id ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "account", account)
	}
	return &c, nil
}

// FirstCharacterByCredentials returns the oldest character in the game whose
// account number and password both match, or ErrNotFound.
func FirstCharacterByCredentials(ctx context.Context, db *gorm.DB, gameID, account, password string) (*model.Character, error) {
	var c model.Character
	err := db.WithContext(ctx).
		Where("game_id = ? AND account_number = ? AND account_password = ?", gameID, account, password).
		Order("created_at ASC, id ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "account", account)
	}
	return &c, nil
}

// CharacterItems returns the character's items map.
func CharacterItems(ctx context.Context, db *gorm.DB, characterID string) (map[string]int, error) {
	var rows []model.CharacterItem
	if err := db.WithContext(ctx).Where("character_id = ? AND quantity > 0", characterID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load items of %s: %w", characterID, err)
	}
	return model.OwnedItems(rows), nil
}

// ApplyGoldDelta adds delta to the character's gold, clamping at zero, and
// returns the new balance.
func ApplyGoldDelta(ctx context.Context, db *gorm.DB, characterID string, delta int64) (int64, error) {
	res := db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", characterID).
		Update("gold", gorm.Expr("CASE WHEN gold + ? < 0 THEN 0 ELSE gold + ? END", delta, delta))
	if res.Error != nil {
		return 0, fmt.Errorf("apply gold delta: %w", res.Error)
	}
	return GoldBalance(ctx, db, characterID)
}

// GoldBalance returns the character's current gold.
func GoldBalance(ctx context.Context, db *gorm.DB, characterID string) (int64, error) {
	var c model.Character
	if err := db.WithContext(ctx).Select("id", "gold").First(&c, "id = ?", characterID).Error; err != nil {
		return 0, notFound(err, "character", characterID)
	}
	return c.Gold, nil
}

// DebitGold subtracts amount only when the balance covers it.
func DebitGold(ctx context.Context, db *gorm.DB, characterID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ? AND gold >= ?", characterID, amount).
		Update("gold", gorm.Expr("gold - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debit gold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientGold
	}
	return nil
}

// AddItems merges quantities into the character's items map.
func AddItems(ctx context.Context, db *gorm.DB, characterID string, items map[string]int) error {
	for itemID, qty := range items {
		if qty <= 0 {
			continue
		}
		res := db.WithContext(ctx).Model(&model.CharacterItem{}).
			Where("character_id = ? AND item_id = ?", characterID, itemID).
			Update("quantity", gorm.Expr("quantity + ?", qty))
		if res.Error != nil {
			return fmt.Errorf("add item %s: %w", itemID, res.Error)
		}
		if res.RowsAffected > 0 {
			continue
		}
		row := &model.CharacterItem{CharacterID: characterID, ItemID: itemID, Quantity: qty}
		if err := db.WithContext(ctx).Create(row).Error; err != nil {
			return fmt.Errorf("add item %s: %w", itemID, err)
		}
	}
	return nil
}

// ---- items ----

func GetItem(ctx context.Context, db *gorm.DB, gameID, id string) (*model.Item, error) {
	var it model.Item
	if err := db.WithContext(ctx).First(&it, "id = ? AND game_id = ?", id, gameID).Error; err != nil {
		return nil, notFound(err, "item", id)
	}
	return &it, nil
}

func ListItems(ctx context.Context, db *gorm.DB, gameID string) ([]model.Item, error) {
	var items []model.Item
	err := db.WithContext(ctx).Where("game_id = ?", gameID).
		Order("item_number ASC, created_at ASC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// ItemCatalog loads the given items of a game keyed by id. Unknown ids are
// simply absent from the result.
func ItemCatalog(ctx context.Context, db *gorm.DB, gameID string, ids []string) (map[string]*model.Item, error) {
	catalog := make(map[string]*model.Item, len(ids))
	if len(ids) == 0 {
		return catalog, nil
	}
	var items []model.Item
	if err := db.WithContext(ctx).Where("game_id = ? AND id IN ?", gameID, ids).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	for i := range items {
		catalog[items[i].ID] = &items[i]
	}
	return catalog, nil
}

// DecrementStock removes n units from an item only when enough remain.
func DecrementStock(ctx context.Context, db *gorm.DB, itemID string, n int) error {
	if n <= 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&model.Item{}).
		Where("id = ? AND quantity >= ?", itemID, n).
		Update("quantity", gorm.Expr("quantity - ?", n))
	if res.Error != nil {
		return fmt.Errorf("decrement stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrInsufficientStock)
	}
	return nil
}

// ---- players ----

func GetPlayer(ctx context.Context, db *gorm.DB, gameID, id string) (*model.Player, error) {
	var p model.Player
	if err := db.WithContext(ctx).First(&p, "id = ? AND game_id = ?", id, gameID).Error; err != nil {
		return nil, notFound(err, "player", id)
	}
	return &p, nil
}

// SetAssumedCharacter records which character a player is logged in as.
// An empty characterID logs the player out.
func SetAssumedCharacter(ctx context.Context, db *gorm.DB, gameID, playerID, characterID string, mode model.LoginMode) error {
	updates := map[string]interface{}{"assumed_character_id": characterID}
	if mode != "" {
		updates["login_mode"] = mode
	}
	res := db.WithContext(ctx).Model(&model.Player{}).
		Where("id = ? AND game_id = ?", playerID, gameID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set assumed character: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	return nil
}

// ---- login failures ----

// GetLoginFailure returns the record or nil when none exists.
func GetLoginFailure(ctx context.Context, db *gorm.DB, gameID, playerID, characterID string) (*model.LoginFailure, error) {
	var lf model.LoginFailure
	err := db.WithContext(ctx).
		Where("game_id = ? AND player_id = ? AND character_id = ?", gameID, playerID, characterID).
		First(&lf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load login failures: %w", err)
	}
	return &lf, nil
}

// SaveLoginFailure upserts the record.
func SaveLoginFailure(ctx context.Context, db *gorm.DB, lf *model.LoginFailure) error {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "player_id"}, {Name: "character_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remaining_attempts", "lock_until"}),
	}).Create(lf).Error
	if err != nil {
		return fmt.Errorf("save login failures: %w", err)
	}
	return nil
}

// ---- purchases ----

// CreatePendingPurchase inserts a pending record keyed by the message id.
// An existing record with the same id is left untouched.
func CreatePendingPurchase(ctx context.Context, db *gorm.DB, rec *model.PurchaseRecord) error {
	rec.Status = model.PurchasePending
	if rec.RequestTime.IsZero() {
		rec.RequestTime = time.Now()
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// ResolvePurchase moves a pending record to approved or rejected. Already
// resolved records yield ErrConflict.
func ResolvePurchase(ctx context.Context, db *gorm.DB, id string, status model.PurchaseStatus,
	approved map[string]model.ApprovedLine, price *int64, reason string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"reason":      reason,
		"resolved_at": &now,
	}
	if status == model.PurchaseApproved {
		updates["approved_items"] = datatypes.NewJSONType(approved)
		updates["approved_price"] = price
	}
	res := db.WithContext(ctx).Model(&model.PurchaseRecord{}).
		Where("id = ? AND status = ?", id, model.PurchasePending).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("resolve purchase: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("purchase %s: %w", id, ErrConflict)
	}
	return nil
}

func ListPurchases(ctx context.Context, db *gorm.DB, gameID, characterID string) ([]model.PurchaseRecord, error) {
	var recs []model.PurchaseRecord
	err := db.WithContext(ctx).Where("game_id = ? AND character_id = ?", gameID, characterID).
		Order("request_time DESC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return recs, nil
}
