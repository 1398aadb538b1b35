package arbiter

import (
	"context"
	"errors"
	"sort"

	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reasonLoginDeclined = "Login declined"

func (e *Engine) apply(ctx context.Context, tx *gorm.DB, p *plan, res Resolution) (*Outcome, []audit.Entry, error) {
	out := &Outcome{MessageID: p.msg.ID, Type: p.msg.MessageType}
	if p.orphan {
		out.Status = statusDropped
		if r, ok := p.req.(*model.PurchaseRequest); ok {
			if err := e.closePurchase(ctx, tx, p, r, model.PurchaseRejected, nil, nil, rules.ReasonCharacterNotFound); err != nil {
				return nil, nil, err
			}
		}
		return out, nil, nil
	}

	var (
		entries []audit.Entry
		err     error
	)
	switch r := p.req.(type) {
	case *model.LoginRequest:
		entries, err = e.applyLogin(ctx, tx, p, res, out)
	case *model.PurchaseRequest:
		entries, err = e.applyPurchase(ctx, tx, p, r, res, out)
	case *model.GoldRequest:
		entries, err = e.applyGold(ctx, tx, p, r, res, out)
	case *model.InventoryRequest:
		entries, err = e.applyInventory(p, r, res, out)
	}
	if err != nil {
		return nil, nil, err
	}
	return out, entries, nil
}

func (e *Engine) entry(p *plan, t model.ActionType, characterID string, details interface{}) audit.Entry {
	return audit.Entry{
		GameID:      p.msg.GameID,
		PlayerID:    p.msg.PlayerID,
		CharacterID: characterID,
		Type:        t,
		Details:     details,
		TraceID:     p.msg.ID,
	}
}

func (out *Outcome) reject(reason string) {
	out.Status = statusRejected
	out.Reason = reason
}

func (e *Engine) applyLogin(ctx context.Context, tx *gorm.DB, p *plan, res Resolution, out *Outcome) ([]audit.Entry, error) {
	t := p.msg.MessageType
	if res.Decision == Decline {
		out.reject(orDefault(res.Reason, reasonLoginDeclined))
		msg, err := reply(p.msg, t.Failure(), model.LoginResult{Reason: out.Reason})
		out.Reply = msg
		return nil, err
	}

	d := p.login
	if d.Failure != nil && p.character != nil {
		err := store.SaveLoginFailure(ctx, tx, &model.LoginFailure{
			GameID:            p.msg.GameID,
			PlayerID:          p.player.ID,
			CharacterID:       p.character.ID,
			RemainingAttempts: d.Failure.RemainingAttempts,
			LockUntil:         d.Failure.LockUntil,
		})
		if err != nil {
			return nil, err
		}
	}

	if !d.Approved {
		out.reject(d.Reason)
		msg, err := reply(p.msg, t.Failure(), model.LoginResult{
			Reason:          d.Reason,
			LockSecondsLeft: d.LockSecondsLeft,
			AttemptsLeft:    d.AttemptsLeft,
		})
		out.Reply = msg
		return nil, err
	}

	if err := store.SetAssumedCharacter(ctx, tx, p.msg.GameID, p.player.ID, p.character.ID, p.loginMode); err != nil {
		return nil, err
	}
	out.Status = statusApproved
	msg, err := reply(p.msg, t.Success(), model.LoginResult{CharacterID: p.character.ID, LoginMode: p.loginMode})
	out.Reply = msg
	return []audit.Entry{e.entry(p, model.ActionLogin, p.character.ID, map[string]interface{}{
		"login_mode": p.loginMode,
	})}, err
}

func (e *Engine) applyPurchase(ctx context.Context, tx *gorm.DB, p *plan, r *model.PurchaseRequest, res Resolution, out *Outcome) ([]audit.Entry, error) {
	t := p.msg.MessageType
	fail := func(reason string, gold int64) ([]audit.Entry, error) {
		out.reject(reason)
		if err := e.closePurchase(ctx, tx, p, r, model.PurchaseRejected, nil, nil, reason); err != nil {
			return nil, err
		}
		msg, err := reply(p.msg, t.Failure(), model.PurchaseResult{
			PurchaseID:  p.msg.ID,
			CharacterID: r.CharacterID,
			Gold:        gold,
			Reason:      reason,
		})
		out.Reply = msg
		return nil, err
	}

	if p.reason != "" {
		return fail(p.reason, 0)
	}

	// The guarded updates fail when another resolution moved stock or gold
	// after the evaluation reads; judge the request once more against the
	// committed state before giving up.
	for attempt := 0; ; attempt++ {
		approved, reason := rules.FinalPurchaseVerdict(res.Decision == Approve, res.Reason, *p.purchase)
		if !approved {
			return fail(reason, p.character.Gold)
		}
		err := tx.Transaction(func(sp *gorm.DB) error {
			return commitPurchase(ctx, sp, p.character.ID, p.purchase)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrInsufficientStock) && !errors.Is(err, store.ErrInsufficientGold) {
			return nil, err
		}
		if attempt > 0 {
			return fail(lostRaceReason(err), p.character.Gold)
		}
		e.logger.Debug("purchase state changed, re-evaluating",
			zap.String("message_id", p.msg.ID), zap.Error(err))
		if err := e.reevaluatePurchase(ctx, tx, p, r); err != nil {
			return nil, err
		}
	}

	eval := p.purchase
	total := eval.TotalPrice
	if err := e.closePurchase(ctx, tx, p, r, model.PurchaseApproved, eval.ApprovedItems, &total, ""); err != nil {
		return nil, err
	}

	out.Status = statusApproved
	gold := p.character.Gold - total
	msg, err := reply(p.msg, t.Success(), model.PurchaseResult{
		PurchaseID:    p.msg.ID,
		CharacterID:   r.CharacterID,
		ApprovedItems: eval.ApprovedItems,
		TotalPrice:    total,
		Gold:          gold,
	})
	out.Reply = msg
	return []audit.Entry{e.entry(p, model.ActionPurchase, p.character.ID, map[string]interface{}{
		"purchase_id": p.msg.ID,
		"items":       eval.ApprovedItems,
		"dropped":     eval.Dropped,
		"total_price": total,
		"gold":        gold,
	})}, err
}

// commitPurchase moves the approved lines from stock to the character and
// debits the total. Items are touched in id order.
func commitPurchase(ctx context.Context, tx *gorm.DB, characterID string, eval *rules.PurchaseEvaluation) error {
	ids := make([]string, 0, len(eval.ApprovedItems))
	for id := range eval.ApprovedItems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	delivered := make(map[string]int, len(ids))
	for _, id := range ids {
		line := eval.ApprovedItems[id]
		if err := store.DecrementStock(ctx, tx, id, line.Quantity); err != nil {
			return err
		}
		delivered[id] = line.Quantity
	}
	if err := store.DebitGold(ctx, tx, characterID, eval.TotalPrice); err != nil {
		return err
	}
	return store.AddItems(ctx, tx, characterID, delivered)
}

func (e *Engine) reevaluatePurchase(ctx context.Context, tx *gorm.DB, p *plan, r *model.PurchaseRequest) error {
	character, err := store.GetCharacter(ctx, p.reader(tx), p.msg.GameID, p.character.ID)
	if err != nil {
		return err
	}
	p.character = character
	return e.evaluatePurchase(ctx, tx, p, r)
}

func lostRaceReason(err error) string {
	if errors.Is(err, store.ErrInsufficientGold) {
		return rules.ReasonInsufficientGold
	}
	return rules.ReasonOutOfStock
}

// closePurchase resolves the purchase record, creating it first when the
// request bypassed Submit.
func (e *Engine) closePurchase(ctx context.Context, tx *gorm.DB, p *plan, r *model.PurchaseRequest,
	status model.PurchaseStatus, lines map[string]model.ApprovedLine, price *int64, reason string) error {
	err := store.CreatePendingPurchase(ctx, tx, &model.PurchaseRecord{
		ID:             p.msg.ID,
		GameID:         p.msg.GameID,
		CharacterID:    r.CharacterID,
		PlayerID:       p.msg.PlayerID,
		RequestTime:    p.msg.ActivityTime,
		RequestedItems: datatypes.NewJSONType(r.Cart),
	})
	if err != nil {
		return err
	}
	err = store.ResolvePurchase(ctx, tx, p.msg.ID, status, lines, price, reason)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

func (e *Engine) applyGold(ctx context.Context, tx *gorm.DB, p *plan, r *model.GoldRequest, res Resolution, out *Outcome) ([]audit.Entry, error) {
	t := p.msg.MessageType
	fail := func(reason string) ([]audit.Entry, error) {
		out.reject(reason)
		var gold int64
		if p.character != nil {
			gold = p.character.Gold
		}
		msg, err := reply(p.msg, t.Failure(), model.GoldResult{CharacterID: r.CharacterID, Gold: gold, Reason: reason})
		out.Reply = msg
		return nil, err
	}

	switch {
	case p.reason != "":
		return fail(p.reason)
	case !p.gold.Approved:
		return fail(p.gold.Reason)
	case res.Decision != Approve:
		return fail(orDefault(res.Reason, rules.ReasonRequestDeclined))
	}

	var (
		gold int64
		err  error
	)
	if p.gold.Delta < 0 {
		// Guarded so a concurrent debit cannot push the balance through zero.
		err = store.DebitGold(ctx, tx, p.character.ID, -p.gold.Delta)
		if errors.Is(err, store.ErrInsufficientGold) {
			if bal, berr := store.GoldBalance(ctx, tx, p.character.ID); berr == nil {
				p.character.Gold = bal
			}
			return fail(rules.ReasonInsufficientFunds)
		}
		if err == nil {
			gold, err = store.GoldBalance(ctx, tx, p.character.ID)
		}
	} else {
		gold, err = store.ApplyGoldDelta(ctx, tx, p.character.ID, p.gold.Delta)
	}
	if err != nil {
		return nil, err
	}
	amount := p.gold.Delta
	actionType := model.ActionDeposit
	if amount < 0 {
		amount = -amount
		actionType = model.ActionWithdraw
	}
	out.Status = statusApproved
	msg, err := reply(p.msg, t.Success(), model.GoldResult{CharacterID: r.CharacterID, Amount: amount, Gold: gold})
	out.Reply = msg
	return []audit.Entry{e.entry(p, actionType, p.character.ID, map[string]int64{
		"amount": amount,
		"gold":   gold,
	})}, err
}

func (e *Engine) applyInventory(p *plan, r *model.InventoryRequest, res Resolution, out *Outcome) ([]audit.Entry, error) {
	t := p.msg.MessageType
	if res.Decision == Ignore {
		out.Status = statusIgnored
		return nil, nil
	}
	fail := func(reason string) ([]audit.Entry, error) {
		out.reject(reason)
		msg, err := reply(p.msg, t.Failure(), model.InventoryResult{CharacterID: r.CharacterID, Reason: reason})
		out.Reply = msg
		return nil, err
	}
	if p.reason != "" {
		return fail(p.reason)
	}
	if res.Decision != Approve {
		return fail(orDefault(res.Reason, rules.ReasonRequestDeclined))
	}

	out.Status = statusApproved
	msg, err := reply(p.msg, t.Success(), model.InventoryResult{
		CharacterID: r.CharacterID,
		Items:       p.owned,
		Gold:        p.character.Gold,
	})
	out.Reply = msg
	return []audit.Entry{e.entry(p, model.ActionInventoryAccess, p.character.ID, nil)}, err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
