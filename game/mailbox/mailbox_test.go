package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/kasuganosora/escaperoom/server/store"
	"github.com/kasuganosora/escaperoom/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	return New(db, ps, zap.NewNop())
}

func attempt(gameID, playerID string) *model.Message {
	details, _ := model.EncodeDetails(model.InventoryRequest{CharacterID: "c1"})
	return &model.Message{
		GameID: gameID, PlayerID: playerID, Direction: model.DirectionToAdmin,
		MessageType: model.MsgInventoryAttempt, MessageDetails: details,
	}
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "mailbox:g:admin", AdminChannel("g"))
	assert.Equal(t, "mailbox:g:player:p", PlayerChannel("g", "p"))
	assert.Equal(t, AdminChannel("g"), ChannelFor(&model.Message{GameID: "g", Direction: model.DirectionToAdmin, PlayerID: "p"}))
	assert.Equal(t, PlayerChannel("g", "p"), ChannelFor(&model.Message{GameID: "g", Direction: model.DirectionToPlayer, PlayerID: "p"}))
}

func TestSendAndPendingOrder(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	first := attempt("g1", "p1")
	require.NoError(t, mb.Send(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := attempt("g1", "p2")
	require.NoError(t, mb.Send(ctx, second))
	require.NoError(t, mb.Send(ctx, attempt("g2", "p1")))

	pending, err := mb.Pending(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestClaimExactlyOnce(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()
	msg := attempt("g1", "p1")
	require.NoError(t, mb.Send(ctx, msg))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mb.Claim(ctx, nil, msg.ID); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyProcessed)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	pending, err := mb.Pending(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetScopedToGame(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()
	msg := attempt("g1", "p1")
	require.NoError(t, mb.Send(ctx, msg))

	got, err := mb.Get(ctx, "g1", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MsgInventoryAttempt, got.MessageType)

	_, err = mb.Get(ctx, "g2", msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlayerInboxAndAcknowledge(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	reply := &model.Message{GameID: "g1", PlayerID: "p1", Direction: model.DirectionToPlayer, MessageType: model.MsgInventoryFailure}
	other := &model.Message{GameID: "g1", PlayerID: "p2", Direction: model.DirectionToPlayer, MessageType: model.MsgInventoryFailure}
	require.NoError(t, mb.Send(ctx, reply))
	require.NoError(t, mb.Send(ctx, other))

	msgs, err := mb.ForPlayer(ctx, "g1", "p1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, reply.ID, msgs[0].ID)

	// p1 cannot acknowledge p2's message
	require.NoError(t, mb.Acknowledge(ctx, "g1", "p1", []string{reply.ID, other.ID}))
	msgs, err = mb.ForPlayer(ctx, "g1", "p1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	msgs, err = mb.ForPlayer(ctx, "g1", "p2")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestWatchPendingStreamsResultSets(t *testing.T) {
	mb := newTestMailbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mb.Send(ctx, attempt("g1", "p1")))

	sets, err := mb.WatchPending(ctx, "g1")
	require.NoError(t, err)

	select {
	case set := <-sets:
		assert.Len(t, set, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial result set")
	}

	require.NoError(t, mb.Send(ctx, attempt("g1", "p2")))
	select {
	case set := <-sets:
		assert.Len(t, set, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no result set after notification")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sets:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
