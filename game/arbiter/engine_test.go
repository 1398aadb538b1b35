package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	"github.com/kasuganosora/escaperoom/server/game/rules"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/monitor"
	"github.com/kasuganosora/escaperoom/server/store"
	"github.com/kasuganosora/escaperoom/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Log(e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) types() []model.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionType, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Type
	}
	return out
}

type env struct {
	db     *gorm.DB
	mb     *mailbox.Mailbox
	engine *Engine
	rec    *recorder
	game   *model.Game
	char   *model.Character
	player *model.Player
	ctx    context.Context
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	mb := mailbox.New(db, ps, zap.NewNop())
	rec := &recorder{}
	e := &env{
		db:     db,
		mb:     mb,
		engine: New(db, mb, rec, monitor.NewMetrics("test"), opts, zap.NewNop()),
		rec:    rec,
		ctx:    context.Background(),
	}
	now := time.Now()
	e.game = &model.Game{AdminID: "admin", GameState: model.GameStateRunning, StartTime: &now}
	require.NoError(t, db.Create(e.game).Error)
	e.char = &model.Character{GameID: e.game.ID, Name: "Ada Lovelace", AccountNumber: "1001", AccountPassword: "pw", Gold: 100}
	require.NoError(t, db.Create(e.char).Error)
	e.player = &model.Player{ID: "player-1", GameID: e.game.ID, PlayerName: "Team A", LoginMode: model.LoginModeNormal}
	require.NoError(t, db.Create(e.player).Error)
	return e
}

// assume logs player-1 in as the test character directly.
func (e *env) assume(t *testing.T, mode model.LoginMode) {
	t.Helper()
	require.NoError(t, store.SetAssumedCharacter(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID, mode))
}

func (e *env) submit(t *testing.T, mt model.MessageType, details interface{}) *model.Message {
	t.Helper()
	msg, err := e.engine.Submit(e.ctx, e.game.ID, e.player.ID, mt, details)
	require.NoError(t, err)
	return msg
}

func (e *env) item(t *testing.T, it *model.Item) *model.Item {
	t.Helper()
	it.GameID = e.game.ID
	require.NoError(t, e.db.Create(it).Error)
	return it
}

func (e *env) reload(t *testing.T) *model.Character {
	t.Helper()
	c, err := store.GetCharacter(e.ctx, e.db, e.game.ID, e.char.ID)
	require.NoError(t, err)
	return c
}

func decode[T any](t *testing.T, msg *model.Message) T {
	t.Helper()
	var v T
	require.NoError(t, msg.DecodeDetails(&v))
	return v
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, Options{})

	_, err := e.engine.Submit(e.ctx, e.game.ID, e.player.ID, model.MsgLoginSuccess, model.LoginResult{})
	assert.ErrorIs(t, err, ErrNotAttempt)

	_, err = e.engine.Submit(e.ctx, e.game.ID, "stranger", model.MsgLoginAttempt, model.LoginRequest{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = e.engine.Submit(e.ctx, e.game.ID, e.player.ID, model.MsgPurchaseAttempt, model.PurchaseRequest{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = e.engine.Submit(e.ctx, e.game.ID, e.player.ID, model.MsgLoginAttempt, model.LoginRequest{LoginMode: "admin"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	require.NoError(t, e.db.Model(&model.Player{}).Where("id = ?", e.player.ID).Update("is_banned", true).Error)
	_, err = e.engine.Submit(e.ctx, e.game.ID, e.player.ID, model.MsgLoginAttempt, model.LoginRequest{})
	assert.ErrorIs(t, err, ErrPlayerBanned)

	require.NoError(t, e.db.Model(&model.Game{}).Where("id = ?", e.game.ID).Update("game_state", model.GameStateEnd).Error)
	_, err = e.engine.Submit(e.ctx, e.game.ID, e.player.ID, model.MsgLoginAttempt, model.LoginRequest{})
	assert.ErrorIs(t, err, ErrGameNotRunning)
}

func TestLoginApproved(t *testing.T) {
	e := newEnv(t, Options{})
	e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw"})

	n, err := e.engine.Pump(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := store.GetPlayer(e.ctx, e.db, e.game.ID, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, e.char.ID, p.AssumedCharacterID)

	inbox, err := e.mb.ForPlayer(e.ctx, e.game.ID, e.player.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.MsgLoginSuccess, inbox[0].MessageType)
	assert.Equal(t, e.char.ID, decode[model.LoginResult](t, &inbox[0]).CharacterID)
	assert.Equal(t, []model.ActionType{model.ActionLogin}, e.rec.types())

	pending, err := e.mb.Pending(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoginLockoutSequence(t *testing.T) {
	e := newEnv(t, Options{})
	bad := model.LoginRequest{AccountNumber: "1001", AccountPassword: "nope"}
	good := model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw"}

	want := []string{
		rules.ReasonInvalidCredentials,
		rules.ReasonInvalidCredentials,
		"Too many failed attempts. Locked for 1 minute.",
	}
	for _, reason := range want {
		msg := e.submit(t, model.MsgLoginAttempt, bad)
		out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
		require.NoError(t, err)
		assert.Equal(t, reason, out.Reason)
	}

	// 4th attempt within the window is rejected even with the right password,
	// and does not touch the counters.
	lfBefore, err := store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		msg := e.submit(t, model.MsgLoginAttempt, good)
		out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
		require.NoError(t, err)
		assert.Equal(t, statusRejected, out.Status)
		assert.Contains(t, out.Reason, "Too many failed attempts. Try again in")
	}
	lfAfter, err := store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID)
	require.NoError(t, err)
	assert.Equal(t, lfBefore.RemainingAttempts, lfAfter.RemainingAttempts)
	assert.True(t, lfBefore.LockUntil.Equal(*lfAfter.LockUntil))

	// After the lock expires the correct password works.
	e.engine.now = func() time.Time { return time.Now().Add(61 * time.Second) }
	msg := e.submit(t, model.MsgLoginAttempt, good)
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusApproved, out.Status)
	lf, err := store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, lf.RemainingAttempts)
}

func TestLoginSharedAccountNumber(t *testing.T) {
	e := newEnv(t, Options{})
	twin := &model.Character{
		GameID: e.game.ID, Name: "Grace Hopper", AccountNumber: "1001", AccountPassword: "other",
		CreatedAt: e.char.CreatedAt.Add(time.Second),
	}
	require.NoError(t, e.db.Create(twin).Error)

	msg := e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "other"})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	require.Equal(t, statusApproved, out.Status)
	assert.Equal(t, model.MsgLoginSuccess, out.Reply.MessageType)
	assert.Equal(t, twin.ID, decode[model.LoginResult](t, out.Reply).CharacterID)

	p, err := store.GetPlayer(e.ctx, e.db, e.game.ID, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, twin.ID, p.AssumedCharacterID)
	lf, err := store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID)
	require.NoError(t, err)
	assert.Nil(t, lf, "older character with the same account must not be charged")

	// A password matching neither is charged to the older character.
	msg = e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "nope"})
	out, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonInvalidCredentials, out.Reason)
	lf, err = store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, e.char.ID)
	require.NoError(t, err)
	require.NotNil(t, lf)
	assert.Equal(t, 2, lf.RemainingAttempts)
	lf, err = store.GetLoginFailure(e.ctx, e.db, e.game.ID, e.player.ID, twin.ID)
	require.NoError(t, err)
	assert.Nil(t, lf)
}

func TestLoginUnknownAccountNoBookkeeping(t *testing.T) {
	e := newEnv(t, Options{})
	msg := e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "9999", AccountPassword: "pw"})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonInvalidCredentials, out.Reason)

	var count int64
	require.NoError(t, e.db.Model(&model.LoginFailure{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLoginSecretMode(t *testing.T) {
	e := newEnv(t, Options{})
	msg := e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw", LoginMode: model.LoginModeSecret})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonNoSecretAccess, out.Reason)

	require.NoError(t, e.db.Model(&model.Character{}).Where("id = ?", e.char.ID).Update("can_access_secret", true).Error)
	msg = e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw", LoginMode: model.LoginModeSecret})
	out, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusApproved, out.Status)

	p, err := store.GetPlayer(e.ctx, e.db, e.game.ID, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoginModeSecret, p.LoginMode)
}

func TestPurchaseClampsToStock(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	b := e.item(t, &model.Item{Name: "B", Quantity: 1, Price: 60})

	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{b.ID: 2}})

	var rec model.PurchaseRecord
	require.NoError(t, e.db.First(&rec, "id = ?", msg.ID).Error)
	assert.Equal(t, model.PurchasePending, rec.Status)

	// purchases wait for the admin
	n, err := e.engine.Pump(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusApproved, out.Status)
	res := decode[model.PurchaseResult](t, out.Reply)
	assert.Equal(t, map[string]model.ApprovedLine{b.ID: {Quantity: 1, Price: 60}}, res.ApprovedItems)
	assert.EqualValues(t, 40, res.Gold)

	assert.EqualValues(t, 40, e.reload(t).Gold)
	item, err := store.GetItem(e.ctx, e.db, e.game.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, item.Quantity)
	owned, err := store.CharacterItems(e.ctx, e.db, e.char.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{b.ID: 1}, owned)

	require.NoError(t, e.db.First(&rec, "id = ?", msg.ID).Error)
	assert.Equal(t, model.PurchaseApproved, rec.Status)
	require.NotNil(t, rec.ApprovedPrice)
	assert.EqualValues(t, 60, *rec.ApprovedPrice)
	assert.Equal(t, []model.ActionType{model.ActionPurchase}, e.rec.types())
}

func TestPurchasePrereqGatedEmptyApproval(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	y := e.item(t, &model.Item{Name: "Y", Quantity: 1, Price: 5})
	x := e.item(t, &model.Item{Name: "X", Quantity: 1, Price: 5, Prereqs: y.ID})

	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{x.ID: 1}})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusApproved, out.Status)
	res := decode[model.PurchaseResult](t, out.Reply)
	assert.Empty(t, res.ApprovedItems)
	assert.Zero(t, res.TotalPrice)
	assert.EqualValues(t, 100, e.reload(t).Gold)
}

func TestPurchaseInsufficientGoldRejectsWholeCart(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	a := e.item(t, &model.Item{Name: "A", Quantity: 5, Price: 60})

	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 2}})

	v, err := e.engine.Review(e.ctx, e.game.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, rules.ReasonInsufficientGold, v.Reason)
	assert.EqualValues(t, 120, v.TotalPrice)

	// admin approval cannot override the automatic verdict
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusRejected, out.Status)
	assert.Equal(t, rules.ReasonInsufficientGold, out.Reason)
	assert.Equal(t, model.MsgPurchaseFailure, out.Reply.MessageType)

	assert.EqualValues(t, 100, e.reload(t).Gold)
	item, err := store.GetItem(e.ctx, e.db, e.game.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)

	var rec model.PurchaseRecord
	require.NoError(t, e.db.First(&rec, "id = ?", msg.ID).Error)
	assert.Equal(t, model.PurchaseRejected, rec.Status)
	assert.Equal(t, rules.ReasonInsufficientGold, rec.Reason)
}

func TestPurchaseAdminDecline(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	a := e.item(t, &model.Item{Name: "A", Quantity: 5, Price: 10})

	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 1}})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Decline})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonPurchaseDeclined, out.Reason)
	assert.EqualValues(t, 100, e.reload(t).Gold)
}

func TestPurchaseNotAssumed(t *testing.T) {
	e := newEnv(t, Options{})
	a := e.item(t, &model.Item{Name: "A", Quantity: 5, Price: 10})

	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 1}})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonNotAssumed, out.Reason)
	assert.EqualValues(t, 100, e.reload(t).Gold)
}

func TestPurchaseSecretItemNeedsSecretMode(t *testing.T) {
	e := newEnv(t, Options{})
	require.NoError(t, e.db.Model(&model.Character{}).Where("id = ?", e.char.ID).Update("can_access_secret", true).Error)
	s := e.item(t, &model.Item{Name: "S", Quantity: 1, Price: 10, IsSecret: true})

	e.assume(t, model.LoginModeNormal)
	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{s.ID: 1}})
	v, err := e.engine.Review(e.ctx, e.game.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, v.Dropped)

	e.assume(t, model.LoginModeSecret)
	v, err = e.engine.Review(e.ctx, e.game.ID, msg.ID)
	require.NoError(t, err)
	assert.Contains(t, v.ApprovedItems, s.ID)
}

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	a := e.item(t, &model.Item{Name: "A", Quantity: 3, Price: 10})

	var ids []string
	for i := 0; i < 5; i++ {
		msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 2}})
		ids = append(ids, msg.ID)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.engine.Resolve(e.ctx, e.game.ID, id, Resolution{Decision: Approve})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	item, err := store.GetItem(e.ctx, e.db, e.game.ID, a.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, item.Quantity, 0)
	c := e.reload(t)
	assert.GreaterOrEqual(t, c.Gold, int64(0))
	owned, err := store.CharacterItems(e.ctx, e.db, e.char.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, owned[a.ID]+item.Quantity)
	assert.EqualValues(t, 100-10*owned[a.ID], c.Gold)
}

// resolveAfter runs one resolution by hand, letting change mutate the rows
// between the evaluation reads and the commit, as a competing resolution
// would.
func (e *env) resolveAfter(t *testing.T, msg *model.Message, change func(tx *gorm.DB)) *Outcome {
	t.Helper()
	var out *Outcome
	err := e.db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, e.mb.Claim(e.ctx, tx, msg.ID))
		p, err := e.engine.evaluate(e.ctx, tx, msg, true)
		require.NoError(t, err)
		change(tx)
		out, _, err = e.engine.apply(e.ctx, tx, p, Resolution{Decision: Approve})
		return err
	})
	require.NoError(t, err)
	return out
}

func TestPurchaseReevaluatedAfterStockTaken(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	a := e.item(t, &model.Item{Name: "A", Quantity: 3, Price: 10})
	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 2}})

	out := e.resolveAfter(t, msg, func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&model.Item{}).Where("id = ?", a.ID).Update("quantity", 1).Error)
	})
	require.Equal(t, statusApproved, out.Status)
	res := decode[model.PurchaseResult](t, out.Reply)
	assert.Equal(t, 1, res.ApprovedItems[a.ID].Quantity)
	assert.EqualValues(t, 10, res.TotalPrice)

	item, err := store.GetItem(e.ctx, e.db, e.game.ID, a.ID)
	require.NoError(t, err)
	assert.Zero(t, item.Quantity)
	assert.EqualValues(t, 90, e.reload(t).Gold)
	owned, err := store.CharacterItems(e.ctx, e.db, e.char.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, owned[a.ID])
}

func TestPurchaseRejectedAfterGoldSpent(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	a := e.item(t, &model.Item{Name: "A", Quantity: 5, Price: 60})
	msg := e.submit(t, model.MsgPurchaseAttempt, model.PurchaseRequest{CharacterID: e.char.ID, Cart: map[string]int{a.ID: 1}})

	out := e.resolveAfter(t, msg, func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&model.Character{}).Where("id = ?", e.char.ID).Update("gold", 30).Error)
	})
	assert.Equal(t, statusRejected, out.Status)
	assert.Equal(t, rules.ReasonInsufficientGold, out.Reason)
	assert.Equal(t, model.MsgPurchaseFailure, out.Reply.MessageType)

	// The stock taken before the debit failed is rolled back.
	item, err := store.GetItem(e.ctx, e.db, e.game.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
	assert.EqualValues(t, 30, e.reload(t).Gold)
	recs, err := store.ListPurchases(e.ctx, e.db, e.game.ID, e.char.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.PurchaseRejected, recs[0].Status)
}

func TestWithdrawRejectedAfterGoldSpent(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	msg := e.submit(t, model.MsgWithdrawAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 80})

	out := e.resolveAfter(t, msg, func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&model.Character{}).Where("id = ?", e.char.ID).Update("gold", 50).Error)
	})
	assert.Equal(t, statusRejected, out.Status)
	assert.Equal(t, rules.ReasonInsufficientFunds, out.Reason)
	assert.Equal(t, model.MsgWithdrawFailure, out.Reply.MessageType)
	assert.EqualValues(t, 50, decode[model.GoldResult](t, out.Reply).Gold)
	assert.EqualValues(t, 50, e.reload(t).Gold)
}

func TestGoldValidationOrder(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)

	cases := []struct {
		mt     model.MessageType
		amount float64
		reason string
	}{
		{model.MsgDepositAttempt, 10.5, rules.ReasonNotWholeNumber},
		{model.MsgDepositAttempt, -1, rules.ReasonNegativeGold},
		{model.MsgWithdrawAttempt, 101, rules.ReasonInsufficientFunds},
		{model.MsgWithdrawAttempt, 0, rules.ReasonNoAmountRequested},
	}
	for _, tc := range cases {
		msg := e.submit(t, tc.mt, model.GoldRequest{CharacterID: e.char.ID, Amount: tc.amount})
		out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
		require.NoError(t, err)
		assert.Equal(t, tc.reason, out.Reason)
		assert.Equal(t, tc.mt.Failure(), out.Reply.MessageType)
	}
	assert.EqualValues(t, 100, e.reload(t).Gold)
	assert.Empty(t, e.rec.types())
}

func TestGoldApproveAndDecline(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)

	msg := e.submit(t, model.MsgWithdrawAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 100})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	res := decode[model.GoldResult](t, out.Reply)
	assert.EqualValues(t, 100, res.Amount)
	assert.Zero(t, res.Gold)

	msg = e.submit(t, model.MsgDepositAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 5})
	out, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Decline, Reason: "not now"})
	require.NoError(t, err)
	assert.Equal(t, "not now", out.Reason)
	assert.Zero(t, e.reload(t).Gold)
	assert.Equal(t, []model.ActionType{model.ActionWithdraw}, e.rec.types())
}

func TestGoldAutoApprove(t *testing.T) {
	e := newEnv(t, Options{AutoApproveGold: true})
	e.assume(t, model.LoginModeNormal)

	e.submit(t, model.MsgDepositAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 25})
	e.submit(t, model.MsgInventoryAttempt, model.InventoryRequest{CharacterID: e.char.ID})

	n, err := e.engine.Pump(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 125, e.reload(t).Gold)

	pending, err := e.mb.Pending(e.ctx, e.game.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.MsgInventoryAttempt, pending[0].MessageType)
}

func TestInventoryDecisions(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	k := e.item(t, &model.Item{Name: "Key", Quantity: 1, Price: 1})
	require.NoError(t, store.AddItems(e.ctx, e.db, e.char.ID, map[string]int{k.ID: 2}))

	msg := e.submit(t, model.MsgInventoryAttempt, model.InventoryRequest{CharacterID: e.char.ID})
	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	res := decode[model.InventoryResult](t, out.Reply)
	assert.Equal(t, map[string]int{k.ID: 2}, res.Items)
	assert.EqualValues(t, 100, res.Gold)

	msg = e.submit(t, model.MsgInventoryAttempt, model.InventoryRequest{CharacterID: e.char.ID})
	out, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Ignore})
	require.NoError(t, err)
	assert.Equal(t, statusIgnored, out.Status)
	assert.Nil(t, out.Reply)

	msg = e.submit(t, model.MsgInventoryAttempt, model.InventoryRequest{CharacterID: e.char.ID})
	out, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Decline})
	require.NoError(t, err)
	assert.Equal(t, rules.ReasonRequestDeclined, out.Reason)

	inbox, err := e.mb.ForPlayer(e.ctx, e.game.ID, e.player.ID)
	require.NoError(t, err)
	assert.Len(t, inbox, 2)
	assert.Equal(t, []model.ActionType{model.ActionInventoryAccess}, e.rec.types())
}

func TestIgnoreOnlyForInventory(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	msg := e.submit(t, model.MsgDepositAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 1})

	_, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Ignore})
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	// still pending
	pending, err := e.mb.Pending(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResolveExactlyOnce(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	msg := e.submit(t, model.MsgDepositAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 10})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		}
	}
	assert.Equal(t, 1, ok)
	assert.EqualValues(t, 110, e.reload(t).Gold)

	_, err := e.engine.Review(e.ctx, e.game.ID, msg.ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestOrphanDropped(t *testing.T) {
	e := newEnv(t, Options{})
	e.assume(t, model.LoginModeNormal)
	msg := e.submit(t, model.MsgDepositAttempt, model.GoldRequest{CharacterID: e.char.ID, Amount: 10})

	require.NoError(t, e.db.Delete(&model.Character{}, "id = ?", e.char.ID).Error)

	v, err := e.engine.Review(e.ctx, e.game.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, v.Orphan)

	out, err := e.engine.Resolve(e.ctx, e.game.ID, msg.ID, Resolution{Decision: Approve})
	require.NoError(t, err)
	assert.Equal(t, statusDropped, out.Status)
	assert.Nil(t, out.Reply)

	inbox, err := e.mb.ForPlayer(e.ctx, e.game.ID, e.player.ID)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestOrphanPlayerRemoved(t *testing.T) {
	e := newEnv(t, Options{})
	e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw"})
	require.NoError(t, e.db.Delete(&model.Player{}, "id = ? AND game_id = ?", e.player.ID, e.game.ID).Error)

	n, err := e.engine.Pump(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err := e.mb.Pending(e.ctx, e.game.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunPumpsOnNotification(t *testing.T) {
	e := newEnv(t, Options{})
	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan error, 1)
	go func() { done <- e.engine.Run(ctx, e.game.ID) }()

	// Run subscribes asynchronously, so keep submitting until one is handled.
	require.Eventually(t, func() bool {
		e.submit(t, model.MsgLoginAttempt, model.LoginRequest{AccountNumber: "1001", AccountPassword: "pw"})
		p, err := store.GetPlayer(e.ctx, e.db, e.game.ID, e.player.ID)
		return err == nil && p.AssumedCharacterID == e.char.ID
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
