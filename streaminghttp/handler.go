package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/galactic-tools/warwatch/internal/engine"
	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/internal/logctx"
	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	// keepAliveInterval paces SSE comment lines so idle streams are not
	// reaped by intermediaries.
	keepAliveInterval = 25 * time.Second

	maxBodyBytes = 4 << 20
)

// ChangeSubscriber hands out channels that signal when the backing data
// changed and resource-updated events should be pushed to SSE streams.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before
// a JSON-RPC exchange is possible. This is transport-level, not JSON-RPC
// framing: {"error":{"code":<httpStatus>,"message":"<reason>"}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSessionManager overrides the session manager. Mainly useful for tests
// that need to observe session lifecycle from outside.
func WithSessionManager(m *sessions.Manager) Option {
	return func(h *Handler) {
		if m != nil {
			h.sessions = m
		}
	}
}

// WithChangeNotifications attaches a change subscriber. Whenever it signals,
// every open GET stream receives notifications/resources/updated events for
// the given URIs.
func WithChangeNotifications(sub ChangeSubscriber, uris ...string) Option {
	return func(h *Handler) {
		if sub != nil && len(uris) > 0 {
			h.changes = sub
			h.changedURIs = uris
		}
	}
}

// Handler is the streaming HTTP transport. One Handler serves any number of
// concurrent sessions; each session's messages are dispatched in arrival
// order via sessions.Session.Ingest.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	eng      *engine.Engine
	sessions *sessions.Manager

	changes     ChangeSubscriber
	changedURIs []string

	// streamsMu guards the fan-out set of per-stream signal channels.
	streamsMu sync.Mutex
	streams   map[chan struct{}]struct{}
}

// New constructs a Handler mounted at the given path.
func New(path string, eng *engine.Engine, opts ...Option) (*Handler, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid mount path %q", path)
	}

	h := &Handler{
		log:      slog.Default(),
		eng:      eng,
		sessions: sessions.NewManager(),
		streams:  make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", path), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("GET %s", path), h.handleGet)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", path), h.handleDelete)
	h.mux = mux
	return h, nil
}

// Run forwards snapshot-change signals to every open SSE stream until ctx is
// canceled. Call it in a goroutine when change notifications are configured.
func (h *Handler) Run(ctx context.Context) error {
	if h.changes == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ch := h.changes.Subscriber()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			h.streamsMu.Lock()
			for s := range h.streams {
				select {
				case s <- struct{}{}:
				default:
				}
			}
			h.streamsMu.Unlock()
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePost accepts exactly one JSON-RPC message per request body. An
// initialize request without a session header creates the session; every
// other message must carry the Mcp-Session-Id header assigned at initialize.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.DebugContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		req := msg.AsRequest()
		if req == nil || req.Method != string(mcp.InitializeMethod) {
			writeJSONError(w, http.StatusBadRequest, "expected initialize request")
			h.log.InfoContext(ctx, "session.initialize.invalid")
			return
		}

		sess := h.sessions.Create()
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})

		var res *jsonrpc.Response
		sess.Ingest(func() {
			res = h.eng.HandleMessage(ctx, sess, &msg)
		})
		if res == nil || res.Error != nil {
			// The handshake did not take; the session must not survive it.
			_ = h.sessions.Delete(sess.ID())
		}
		if res != nil && res.Error == nil {
			w.Header().Set(mcpSessionIDHeader, sess.ID())
			if pv := sess.ProtocolVersion(); pv != "" {
				w.Header().Set(mcpProtocolVersionHeader, pv)
			}
			h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
		}
		h.writeResponse(ctx, w, res)
		return
	}

	sess, err := h.sessions.Get(sessID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})

	if req := msg.AsRequest(); req != nil && req.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" {
		if spv := sess.ProtocolVersion(); spv != "" && pv != spv {
			writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			return
		}
	}

	var res *jsonrpc.Response
	sess.Ingest(func() {
		res = h.eng.HandleMessage(ctx, sess, &msg)
	})

	if res == nil {
		// Notifications and client responses produce no reply.
		if pv := sess.ProtocolVersion(); pv != "" {
			w.Header().Set(mcpProtocolVersionHeader, pv)
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	h.writeResponse(ctx, w, res)
	h.log.DebugContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) writeResponse(ctx context.Context, w http.ResponseWriter, res *jsonrpc.Response) {
	if res == nil {
		writeJSONError(w, http.StatusInternalServerError, "no response produced")
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.WarnContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

// handleGet serves the server-to-client notification stream as SSE. The only
// events this server pushes are notifications/resources/updated, emitted
// whenever a fresh war snapshot replaces the cached one.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	sess, err := h.sessions.Get(sessID)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.State()),
	})

	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	signal := make(chan struct{}, 1)
	h.streamsMu.Lock()
	h.streams[signal] = struct{}{}
	h.streamsMu.Unlock()
	defer func() {
		h.streamsMu.Lock()
		delete(h.streams, signal)
		h.streamsMu.Unlock()
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end")
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			f.Flush()
		case <-signal:
			if sess.State() != sessions.StateReady {
				continue
			}
			for _, uri := range h.changedURIs {
				note, err := jsonrpc.NewNotification(
					string(mcp.ResourcesUpdatedNotificationMethod),
					&mcp.ResourceUpdatedNotification{URI: uri},
				)
				if err != nil {
					continue
				}
				b, err := json.Marshal(note)
				if err != nil {
					continue
				}
				if err := writeSSEEvent(w, uuid.NewString(), b); err != nil {
					h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
					return
				}
				f.Flush()
			}
			h.log.DebugContext(ctx, "sse.resources_updated.sent")
		}
	}
}

// handleDelete tears a session down explicitly.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}

	sess, err := h.sessions.Get(sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	if pv := sess.ProtocolVersion(); pv != "" {
		w.Header().Set(mcpProtocolVersionHeader, pv)
	}
	_ = h.sessions.Delete(sessID)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "session.delete.ok",
		slog.String("session_id", sessID),
		slog.Int("live_sessions", h.sessions.Len()))
}

// writeSSEEvent frames one SSE event: optional id line, then the payload as
// a single data line.
func writeSSEEvent(w io.Writer, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", eventID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}
