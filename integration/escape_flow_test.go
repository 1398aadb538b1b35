package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type room struct {
	gameID string
	charID string
	itemID string
	admin  string
}

// setupRoom creates a game with one character (1001/pw, 100 gold) and one
// item (price 30, stock 3), optionally starting it.
func setupRoom(t *testing.T, ts *TestServer, durationMs int64, start bool) room {
	t.Helper()
	admin := ts.AdminLogin(t, "gm", "pass1234")
	g := ts.Expect(t, http.StatusCreated, http.MethodPost, "/api/games",
		map[string]interface{}{"name": "Vault", "game_duration": durationMs}, admin)
	r := room{gameID: g["id"].(string), admin: admin}
	base := "/api/games/" + r.gameID
	ch := ts.Expect(t, http.StatusCreated, http.MethodPost, base+"/characters", map[string]interface{}{
		"name": "Ada", "account_number": "1001", "account_password": "pw", "starting_gold": 100,
	}, admin)
	r.charID = ch["id"].(string)
	it := ts.Expect(t, http.StatusCreated, http.MethodPost, base+"/items", map[string]interface{}{
		"name": "Lamp", "quantity": 3, "price": 30,
	}, admin)
	r.itemID = it["id"].(string)
	if start {
		ts.Expect(t, http.StatusOK, http.MethodPost, base+"/state", map[string]string{"game_state": "running"}, admin)
	}
	return r
}

// joinDevice signs a device in, joins the room and opens its socket. The
// socket's initial (empty) message set is consumed.
func joinDevice(t *testing.T, ts *TestServer, r room) (*WSClient, string) {
	t.Helper()
	token, _ := ts.Anonymous(t)
	ts.Expect(t, http.StatusOK, http.MethodPost, "/api/games/"+r.gameID+"/join",
		map[string]string{"player_name": "Team A"}, token)
	wc := ts.ConnectWS(t, r.gameID, token)
	initial := wc.RecvType("messages", 3*time.Second)
	assert.JSONEq(t, "[]", string(initial.Payload))
	return wc, token
}

// awaitReply waits for a message set containing a reply of type typ for
// which match holds and returns that reply's details. A nil match accepts
// any reply of the type.
func awaitReply(t *testing.T, wc *WSClient, typ model.MessageType, match ...func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	var details map[string]interface{}
	wc.RecvMatch(5*time.Second, func(p Packet) bool {
		if p.Type != "messages" {
			return false
		}
		var msgs []model.Message
		require.NoError(t, json.Unmarshal(p.Payload, &msgs))
		for _, m := range msgs {
			if m.MessageType != typ {
				continue
			}
			var d map[string]interface{}
			require.NoError(t, json.Unmarshal(m.MessageDetails, &d))
			if len(match) == 0 || match[0](d) {
				details = d
				return true
			}
		}
		return false
	})
	return details
}

func withReason(reason string) func(map[string]interface{}) bool {
	return func(d map[string]interface{}) bool { return d["reason"] == reason }
}

func login(t *testing.T, wc *WSClient, password string) {
	t.Helper()
	seq := wc.Send("login", map[string]string{"account_number": "1001", "account_password": password})
	require.Equal(t, "ok", wc.Reply(seq).Type)
}

func TestDeviceLoginResolvedAutomatically(t *testing.T) {
	ts := NewTestServer(t, arbiter.Options{})
	r := setupRoom(t, ts, 0, true)
	wc, token := joinDevice(t, ts, r)

	login(t, wc, "pw")
	details := awaitReply(t, wc, model.MsgLoginSuccess)
	assert.Equal(t, r.charID, details["character_id"])

	me := ts.Expect(t, http.StatusOK, http.MethodGet, "/api/games/"+r.gameID+"/me", nil, token)
	require.NotNil(t, me["character"])
	assert.Equal(t, r.charID, me["character"].(map[string]interface{})["id"])
}

func TestPurchaseResolvedByAdmin(t *testing.T) {
	ts := NewTestServer(t, arbiter.Options{})
	r := setupRoom(t, ts, 0, true)
	wc, token := joinDevice(t, ts, r)
	base := "/api/games/" + r.gameID

	login(t, wc, "pw")
	awaitReply(t, wc, model.MsgLoginSuccess)

	seq := wc.Send("purchase", map[string]interface{}{
		"character_id": r.charID, "cart": map[string]int{r.itemID: 2},
	})
	reply := wc.Reply(seq)
	require.Equal(t, "ok", reply.Type)
	var submitted struct {
		MessageID string `json:"message_id"`
	}
	require.NoError(t, json.Unmarshal(reply.Payload, &submitted))

	// Purchases wait for the admin; the supervisor leaves them pending.
	time.Sleep(150 * time.Millisecond)
	pending := ts.Expect(t, http.StatusOK, http.MethodGet, base+"/requests", nil, r.admin)["requests"].([]interface{})
	require.Len(t, pending, 1)
	assert.Equal(t, submitted.MessageID, pending[0].(map[string]interface{})["id"])

	out := ts.Expect(t, http.StatusOK, http.MethodPost, base+"/requests/"+submitted.MessageID+"/resolve",
		map[string]string{"decision": "approve"}, r.admin)
	assert.Equal(t, "approved", out["status"])

	details := awaitReply(t, wc, model.MsgPurchaseSuccess)
	assert.Equal(t, float64(60), details["total_price"])
	assert.Equal(t, float64(40), details["gold"])

	me := ts.Expect(t, http.StatusOK, http.MethodGet, base+"/me", nil, token)
	assert.Equal(t, float64(2), me["items"].(map[string]interface{})[r.itemID])
}

func TestLockoutAfterFailedLogins(t *testing.T) {
	ts := NewTestServer(t, arbiter.Options{})
	r := setupRoom(t, ts, 0, true)
	wc, _ := joinDevice(t, ts, r)

	// Failures stay unread, so later sets still hold the earlier replies.
	login(t, wc, "wrong")
	d := awaitReply(t, wc, model.MsgLoginFailure)
	assert.Equal(t, "Invalid Credentials", d["reason"])
	assert.Equal(t, float64(2), d["attempts_left"])

	login(t, wc, "wrong")
	awaitReply(t, wc, model.MsgLoginFailure, func(d map[string]interface{}) bool {
		return d["attempts_left"] == float64(1)
	})

	login(t, wc, "wrong")
	d = awaitReply(t, wc, model.MsgLoginFailure, withReason("Too many failed attempts. Locked for 1 minute."))
	assert.Equal(t, float64(60), d["lock_seconds_left"])

	// The right password is refused while locked.
	login(t, wc, "pw")
	awaitReply(t, wc, model.MsgLoginFailure, withReason("Too many failed attempts. Try again in 60 seconds."))
}

func TestClockEndsGame(t *testing.T) {
	ts := NewTestServer(t, arbiter.Options{})
	r := setupRoom(t, ts, 1000, false)
	wc, token := joinDevice(t, ts, r)
	base := "/api/games/" + r.gameID

	ts.Expect(t, http.StatusOK, http.MethodPost, base+"/state", map[string]string{"game_state": "running"}, r.admin)
	ended := wc.RecvMatch(5*time.Second, func(p Packet) bool {
		if p.Type != "game" {
			return false
		}
		var view map[string]interface{}
		require.NoError(t, json.Unmarshal(p.Payload, &view))
		return view["game_state"] == "end"
	})
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(ended.Payload, &view))
	assert.Equal(t, "00:00:00", view["remaining"])

	seq := wc.Send("login", map[string]string{"account_number": "1001", "account_password": "pw"})
	reply := wc.Reply(seq)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, string(reply.Payload), "not running")

	clock := ts.Expect(t, http.StatusOK, http.MethodGet, base+"/clock", nil, token)
	assert.Equal(t, "end", clock["game_state"])

	resp := ts.Get(t, "/metrics", "")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "integration_games_ended_by_clock_total 1")
}
