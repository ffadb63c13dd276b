package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/galactic-tools/warwatch/internal/engine"
	"github.com/galactic-tools/warwatch/internal/jsonrpc"
	"github.com/galactic-tools/warwatch/internal/logctx"
	"github.com/galactic-tools/warwatch/mcp"
	"github.com/galactic-tools/warwatch/sessions"
)

// maxLineBytes bounds a single inbound message line.
const maxLineBytes = 4 << 20

// Handler is the stdio transport. It reads newline-delimited JSON-RPC from
// the reader, dispatches through the engine, and writes one response line
// per request. Responses and pushed notifications share a write mutex so
// lines never interleave.
type Handler struct {
	eng *engine.Engine
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	changes     ChangeSubscriber
	changedURIs []string

	writeMu sync.Mutex
}

// NewHandler constructs a Handler over os.Stdin/os.Stdout by default.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng: eng,
		r:   os.Stdin,
		w:   os.Stdout,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read loop until EOF on the reader or ctx is canceled. EOF
// is a clean shutdown and returns nil. Serve may be called at most once.
func (h *Handler) Serve(ctx context.Context) error {
	sess := sessions.New()
	defer sess.Close()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})
	h.log.InfoContext(ctx, "stdio.serve.start", slog.String("session_id", sess.ID()))

	if h.changes != nil {
		go h.pumpChanges(ctx, sess)
	}

	// The reader goroutine feeds lines; the select below lets ctx
	// cancellation win even while a read is blocked on a quiet stdin.
	lines := make(chan inboundLine)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(h.r, 64*1024)
		for {
			line, oversized, err := readLine(br)
			if oversized || len(line) > 0 {
				select {
				case lines <- inboundLine{data: line, oversized: oversized}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errc <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return err
					}
				default:
				}
				h.log.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			if in.oversized {
				h.log.InfoContext(ctx, "stdio.inbound.oversized", slog.Int("limit_bytes", maxLineBytes))
				res := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError,
					"parse error: message exceeds size limit", nil)
				if werr := h.writeJSON(res); werr != nil {
					h.log.WarnContext(ctx, "stdio.write.fail", slog.String("err", werr.Error()))
				}
				continue
			}
			h.handleLine(ctx, sess, in.data)
		}
	}
}

type inboundLine struct {
	data      []byte
	oversized bool
}

// readLine reads one newline-delimited message of at most maxLineBytes. An
// oversized line is discarded through its terminating newline and reported
// as oversized so the session answers with a parse error and keeps reading.
func readLine(br *bufio.Reader) (line []byte, oversized bool, err error) {
	var buf []byte
	for {
		frag, err := br.ReadSlice('\n')
		if len(buf)+len(frag) > maxLineBytes {
			for err == bufio.ErrBufferFull {
				_, err = br.ReadSlice('\n')
			}
			return nil, true, err
		}
		buf = append(buf, frag...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return bytes.TrimRight(buf, "\r\n"), false, err
	}
}

func (h *Handler) handleLine(ctx context.Context, sess *sessions.Session, line []byte) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.log.InfoContext(ctx, "stdio.inbound.malformed", slog.String("err", err.Error()))
		res := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError,
			"parse error: "+err.Error(), nil)
		if werr := h.writeJSON(res); werr != nil {
			h.log.WarnContext(ctx, "stdio.write.fail", slog.String("err", werr.Error()))
		}
		return
	}

	sess.Ingest(func() {
		res := h.eng.HandleMessage(ctx, sess, &msg)
		if res == nil {
			return
		}
		if err := h.writeJSON(res); err != nil {
			h.log.WarnContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
		}
	})
}

// pumpChanges forwards snapshot-change signals as resource-updated
// notifications. Notifications are held back until the session finishes the
// initialize handshake.
func (h *Handler) pumpChanges(ctx context.Context, sess *sessions.Session) {
	ch := h.changes.Subscriber()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
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
				if err := h.writeJSON(note); err != nil {
					h.log.WarnContext(ctx, "stdio.notify.fail", slog.String("err", err.Error()))
					return
				}
			}
		}
	}
}

func (h *Handler) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		return err
	}
	_, err = h.w.Write([]byte{'\n'})
	return err
}
