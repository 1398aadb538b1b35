package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS packet payload. The returned value, if
// non-nil, is sent back as the packet's "ok" reply.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error)

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given packet type.
func (r *Router) On(typ string, fn HandlerFunc) {
	r.handlers[typ] = fn
}

type errorReply struct {
	Error string `json:"error"`
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate
// handler. Every accepted packet gets an "ok" or "error" reply carrying its
// seq.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.String("player_id", s.PlayerID),
			zap.Error(err))
		s.Send("error", 0, errorReply{Error: "malformed packet"})
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("player_id", s.PlayerID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		s.Send("error", pkt.Seq, errorReply{Error: "unknown packet type " + pkt.Type})
		return
	}

	s.TraceID = uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, s.TraceID)
	out, err := fn(ctx, s, pkt.Payload)
	if err != nil {
		r.logger.Info("ws packet rejected",
			zap.String("type", pkt.Type),
			zap.String("player_id", s.PlayerID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		s.Send("error", pkt.Seq, errorReply{Error: err.Error()})
		return
	}
	s.Send("ok", pkt.Seq, out)
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
