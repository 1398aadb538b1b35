package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"gorm.io/gorm"
)

// decodeRequest unmarshals the details of a request into its typed payload.
func decodeRequest(msg *model.Message) (interface{}, error) {
	var req interface{}
	switch msg.MessageType {
	case model.MsgLoginAttempt:
		req = &model.LoginRequest{}
	case model.MsgPurchaseAttempt:
		req = &model.PurchaseRequest{}
	case model.MsgDepositAttempt, model.MsgWithdrawAttempt:
		req = &model.GoldRequest{}
	case model.MsgInventoryAttempt:
		req = &model.InventoryRequest{}
	default:
		return nil, ErrNotAttempt
	}
	if err := msg.DecodeDetails(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch r := req.(type) {
	case *model.LoginRequest:
		if r.LoginMode == "" {
			r.LoginMode = model.LoginModeNormal
		}
		if !r.LoginMode.Valid() {
			return nil, fmt.Errorf("%w: login mode %q", ErrInvalidPayload, r.LoginMode)
		}
	case *model.PurchaseRequest:
		if r.CharacterID == "" {
			return nil, fmt.Errorf("%w: character_id required", ErrInvalidPayload)
		}
		if r.Cart == nil {
			r.Cart = map[string]int{}
		}
	case *model.GoldRequest:
		if r.CharacterID == "" {
			return nil, fmt.Errorf("%w: character_id required", ErrInvalidPayload)
		}
	case *model.InventoryRequest:
		if r.CharacterID == "" {
			return nil, fmt.Errorf("%w: character_id required", ErrInvalidPayload)
		}
	}
	return req, nil
}

// plan is the read-only evaluation of a request against the current state.
type plan struct {
	msg       *model.Message
	req       interface{}
	player    *model.Player
	character *model.Character
	// orphan is set when the player or character no longer exists, or the
	// payload cannot be decoded.
	orphan    bool
	// reason, when set, is a rejection decided before the rules ran.
	reason    string

	login     *rules.LoginDecision
	loginMode model.LoginMode
	purchase  *rules.PurchaseEvaluation
	gold      *rules.GoldVerdict
	owned     map[string]int
	lock      bool
}

func (p *plan) reader(db *gorm.DB) *gorm.DB {
	if p.lock {
		return store.ForUpdate(db)
	}
	return db
}

// evaluate reads the state a request is judged against. With lock set, the
// character and item rows stay locked until db's transaction ends, so the
// mutations applied afterwards see the same balances and stock.
func (e *Engine) evaluate(ctx context.Context, db *gorm.DB, msg *model.Message, lock bool) (*plan, error) {
	p := &plan{msg: msg, lock: lock}
	req, err := decodeRequest(msg)
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			p.orphan = true
			return p, nil
		}
		return nil, err
	}
	p.req = req

	player, err := store.GetPlayer(ctx, db, msg.GameID, msg.PlayerID)
	if errors.Is(err, store.ErrNotFound) {
		p.orphan = true
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.player = player

	if r, ok := req.(*model.LoginRequest); ok {
		return p, e.evaluateLogin(ctx, db, p, r)
	}

	characterID := requestCharacterID(req)
	if player.AssumedCharacterID != characterID {
		p.reason = rules.ReasonNotAssumed
		return p, nil
	}
	character, err := store.GetCharacter(ctx, p.reader(db), msg.GameID, characterID)
	if errors.Is(err, store.ErrNotFound) {
		p.orphan = true
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.character = character

	switch r := req.(type) {
	case *model.PurchaseRequest:
		return p, e.evaluatePurchase(ctx, db, p, r)
	case *model.GoldRequest:
		kind := rules.GoldDeposit
		if msg.MessageType == model.MsgWithdrawAttempt {
			kind = rules.GoldWithdraw
		}
		v := rules.ValidateGoldAction(kind, character.Gold, r.Amount)
		p.gold = &v
	case *model.InventoryRequest:
		owned, err := store.CharacterItems(ctx, db, character.ID)
		if err != nil {
			return nil, err
		}
		p.owned = owned
	}
	return p, nil
}

func requestCharacterID(req interface{}) string {
	switch r := req.(type) {
	case *model.PurchaseRequest:
		return r.CharacterID
	case *model.GoldRequest:
		return r.CharacterID
	case *model.InventoryRequest:
		return r.CharacterID
	}
	return ""
}

func (e *Engine) evaluateLogin(ctx context.Context, db *gorm.DB, p *plan, r *model.LoginRequest) error {
	in := rules.LoginInput{
		Password: r.AccountPassword,
		Mode:     r.LoginMode,
		Banned:   p.player.IsBanned,
		Now:      e.now(),
	}
	// A full match wins; otherwise the failure is charged to the first
	// character holding the account number.
	candidate, err := store.FirstCharacterByCredentials(ctx, db, p.msg.GameID, r.AccountNumber, r.AccountPassword)
	if errors.Is(err, store.ErrNotFound) {
		candidate, err = store.FirstCharacterByAccount(ctx, db, p.msg.GameID, r.AccountNumber)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		in.Candidate = candidate
		p.character = candidate
		lf, err := store.GetLoginFailure(ctx, db, p.msg.GameID, p.player.ID, candidate.ID)
		if err != nil {
			return err
		}
		if lf != nil {
			in.Failure = &rules.FailureState{RemainingAttempts: lf.RemainingAttempts, LockUntil: lf.LockUntil}
		}
	}
	d := rules.DecideLogin(e.opts.Lockout, in)
	p.login = &d
	p.loginMode = r.LoginMode
	return nil
}

func (e *Engine) evaluatePurchase(ctx context.Context, db *gorm.DB, p *plan, r *model.PurchaseRequest) error {
	owned, err := store.CharacterItems(ctx, db, p.character.ID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(r.Cart))
	for id := range r.Cart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	catalog, err := store.ItemCatalog(ctx, p.reader(db), p.msg.GameID, ids)
	if err != nil {
		return err
	}
	buyer := rules.Buyer{
		Gold:         p.character.Gold,
		Owned:        owned,
		SecretAccess: p.player.LoginMode == model.LoginModeSecret && p.character.CanAccessSecret,
	}
	eval := rules.EvaluatePurchase(buyer, catalog, r.Cart)
	p.purchase = &eval
	p.owned = owned
	return nil
}
