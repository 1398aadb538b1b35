// Package integration runs the whole server over real HTTP and WebSocket
// connections, wired the way main.go wires it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/escaperoom/server/api/rest"
	"github.com/kasuganosora/escaperoom/server/api/sse"
	"github.com/kasuganosora/escaperoom/server/api/ws"
	"github.com/kasuganosora/escaperoom/server/audit"
	"github.com/kasuganosora/escaperoom/server/config"
	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/game/catalog"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	"github.com/kasuganosora/escaperoom/server/game/mailbox"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/monitor"
	"github.com/kasuganosora/escaperoom/server/scheduler"
	"github.com/kasuganosora/escaperoom/server/storage"
	"github.com/kasuganosora/escaperoom/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	Engine  *arbiter.Engine
	Metrics *monitor.Metrics
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>
	Sec     config.SecurityConfig

	stop func()
}

// NewTestServer creates a fully wired server for integration testing. The
// clock and the arbiter supervisor tick fast so tests see them act.
func NewTestServer(t *testing.T, opts arbiter.Options) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)
	metrics := monitor.NewMetrics("integration")

	// ---- Game Systems ----
	games := lifecycle.NewService(db, pubsub, auditSvc, 0, logger)
	clock := lifecycle.NewClock(games, c, sched, 100*time.Millisecond, logger).WithMetrics(metrics)
	clock.Start()
	mb := mailbox.New(db, pubsub, logger)
	engine := arbiter.New(db, mb, auditSvc, metrics, opts, logger)
	supervisor := arbiter.NewSupervisor(engine, sched, 50*time.Millisecond)
	supervisor.Start(ctx)
	cat := catalog.New(db, auditSvc, logger)
	files, err := storage.NewLocal(t.TempDir(), "/uploads", 1<<20)
	require.NoError(t, err)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger), metrics.Middleware())
	r.Use(mw.RateLimit(ctx, rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst, mw.ByClient))
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ---- Routes (mirrors main.go) ----
	groups := rest.Mount(r.Group("/api"), rest.Handlers{
		Auth:     rest.NewAuthHandler(db, c, sec, logger),
		Games:    rest.NewGameHandler(games, logger),
		Catalog:  rest.NewCatalogHandler(cat, files, logger),
		Requests: rest.NewRequestHandler(engine, mb, logger),
		Players:  rest.NewPlayerHandler(cat, logger),
		Actions:  rest.NewActionHandler(auditSvc, logger),
	}, mw.Auth(sec, c))
	sseH := sse.NewHandler(mb, pubsub, sec.AllowedOrigins, logger)
	groups.Admin.GET("/admin/stream", sseH.AdminStream)
	groups.Player.GET("/stream", sseH.PlayerStream)
	wsH := ws.NewHandler(engine, mb, pubsub, sec.AllowedOrigins, logger)
	groups.Player.GET("/ws", wsH.ServeWS)

	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:      db,
		Engine:  engine,
		Metrics: metrics,
		Server:  server,
		URL:     server.URL,
		WSURL:   "ws" + server.URL[len("http"):],
		Sec:     sec,
	}
	ts.stop = func() {
		supervisor.Stop()
		clock.Stop()
		sched.Stop()
		cancel()
		server.Close()
		auditSvc.Stop(context.Background())
	}
	t.Cleanup(ts.stop)
	return ts
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Expect sends a request, requires the status and decodes the body, if any.
func (ts *TestServer) Expect(t *testing.T, status int, method, path string, body interface{}, token string) map[string]interface{} {
	t.Helper()
	resp := ts.do(t, method, path, body, token)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, status, resp.StatusCode, "%s %s: %s", method, path, string(data))
	if len(data) == 0 {
		return nil
	}
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out), "body: %s", string(data))
	return out
}

// --- Auth helpers ---

// AdminLogin logs in (auto-registers on first call) and returns the token.
func (ts *TestServer) AdminLogin(t *testing.T, username, password string) string {
	t.Helper()
	out := ts.Expect(t, http.StatusOK, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	return out["token"].(string)
}

// Anonymous signs a new player device in and returns its token and user id.
func (ts *TestServer) Anonymous(t *testing.T) (token, userID string) {
	t.Helper()
	out := ts.Expect(t, http.StatusOK, http.MethodPost, "/api/auth/anonymous", nil, "")
	return out["token"].(string), out["user_id"].(string)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop to avoid gorilla/websocket's SetReadDeadline bug.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult // buffered channel from readLoop
}

type readResult struct {
	data []byte
	err  error
}

// Packet is a decoded server packet.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectWS dials a game's device channel. The token travels as the
// access_token query parameter.
func (ts *TestServer) ConnectWS(t *testing.T, gameID, token string) *WSClient {
	t.Helper()
	url := ts.WSURL + "/api/games/" + gameID + "/ws?access_token=" + token
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(func() { conn.Close() })
	return wc
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a packet and returns its seq.
func (wc *WSClient) Send(typ string, payload interface{}) uint64 {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(Packet{Seq: seq, Type: typ, Payload: payloadJSON})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
	return seq
}

// RecvMatch reads packets until one for which match returns true arrives.
func (wc *WSClient) RecvMatch(timeout time.Duration, match func(Packet) bool) Packet {
	wc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			require.NoError(wc.t, res.err, "WS recv failed")
			var pkt Packet
			require.NoError(wc.t, json.Unmarshal(res.data, &pkt))
			if match(pkt) {
				return pkt
			}
		case <-deadline:
			wc.t.Fatalf("timed out waiting for packet")
			return Packet{}
		}
	}
}

// RecvType reads packets until one of the given type arrives.
func (wc *WSClient) RecvType(typ string, timeout time.Duration) Packet {
	wc.t.Helper()
	return wc.RecvMatch(timeout, func(p Packet) bool { return p.Type == typ })
}

// Reply waits for the ok or error answer to the packet with seq.
func (wc *WSClient) Reply(seq uint64) Packet {
	wc.t.Helper()
	return wc.RecvMatch(3*time.Second, func(p Packet) bool {
		return p.Seq == seq && (p.Type == "ok" || p.Type == "error")
	})
}
